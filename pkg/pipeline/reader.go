package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harmonixlabs/songlake/pkg/duck"
	"github.com/harmonixlabs/songlake/pkg/etl"
)

// Source layout under the root: song metadata documents are nested by song id
// prefix, activity logs by year and month. The recursive glob covers both
// without assuming a nesting depth.
const (
	songGlob = "song_data/**/*.json"
	logGlob  = "log_data/**/*.json"
)

// joinPrefix joins a root (local path or s3:// prefix) with a relative glob.
// filepath.Join would mangle the s3:// scheme, so this stays string-based.
func joinPrefix(root, rel string) string {
	return strings.TrimRight(root, "/") + "/" + rel
}

// readSongDocs loads every song metadata document under the root with a
// declared schema; fields absent from a document come back NULL. DuckDB
// resolves the glob in sorted order, which is what makes first-seen-wins
// deduplication downstream deterministic.
func readSongDocs(ctx context.Context, conn duck.Connection, root string) ([]etl.SongDoc, error) {
	glob := joinPrefix(root, songGlob)
	query := fmt.Sprintf(`
		SELECT song_id, title, artist_id, artist_name, artist_location,
			artist_latitude, artist_longitude, year, duration
		FROM read_json('%s', format = 'auto', columns = {
			song_id: 'VARCHAR',
			title: 'VARCHAR',
			artist_id: 'VARCHAR',
			artist_name: 'VARCHAR',
			artist_location: 'VARCHAR',
			artist_latitude: 'DOUBLE',
			artist_longitude: 'DOUBLE',
			year: 'INTEGER',
			duration: 'DOUBLE'
		})`, duck.QuoteLiteral(glob))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read song data from %s: %w", glob, err)
	}
	defer rows.Close()

	var docs []etl.SongDoc
	for rows.Next() {
		var (
			songID, title, artistID, artistName, artistLocation sql.NullString
			latitude, longitude, duration                       sql.NullFloat64
			year                                                sql.NullInt32
		)
		if err := rows.Scan(&songID, &title, &artistID, &artistName, &artistLocation,
			&latitude, &longitude, &year, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan song document: %w", err)
		}
		doc := etl.SongDoc{
			SongID:         songID.String,
			Title:          title.String,
			ArtistID:       artistID.String,
			ArtistName:     artistName.String,
			ArtistLocation: artistLocation.String,
			Year:           year.Int32,
			Duration:       duration.Float64,
		}
		if latitude.Valid {
			doc.ArtistLatitude = &latitude.Float64
		}
		if longitude.Valid {
			doc.ArtistLongitude = &longitude.Float64
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate song documents: %w", err)
	}
	return docs, nil
}

// readActivity loads every activity log event under the root. The raw field
// names are the app's camelCase; the transforms rename them.
func readActivity(ctx context.Context, conn duck.Connection, root string) ([]etl.ActivityRecord, error) {
	glob := joinPrefix(root, logGlob)
	query := fmt.Sprintf(`
		SELECT userId, firstName, lastName, gender, level, ts, sessionId,
			location, userAgent, page, song, artist, length
		FROM read_json('%s', format = 'auto', columns = {
			userId: 'VARCHAR',
			firstName: 'VARCHAR',
			lastName: 'VARCHAR',
			gender: 'VARCHAR',
			level: 'VARCHAR',
			ts: 'BIGINT',
			sessionId: 'INTEGER',
			location: 'VARCHAR',
			userAgent: 'VARCHAR',
			page: 'VARCHAR',
			song: 'VARCHAR',
			artist: 'VARCHAR',
			length: 'DOUBLE'
		})`, duck.QuoteLiteral(glob))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity logs from %s: %w", glob, err)
	}
	defer rows.Close()

	var records []etl.ActivityRecord
	for rows.Next() {
		var (
			userID, firstName, lastName, gender, level  sql.NullString
			location, userAgent, page, song, artistName sql.NullString
			ts                                          sql.NullInt64
			sessionID                                   sql.NullInt32
			length                                      sql.NullFloat64
		)
		if err := rows.Scan(&userID, &firstName, &lastName, &gender, &level, &ts, &sessionID,
			&location, &userAgent, &page, &song, &artistName, &length); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		r := etl.ActivityRecord{
			UserID:    userID.String,
			FirstName: firstName.String,
			LastName:  lastName.String,
			Gender:    gender.String,
			Level:     level.String,
			SessionID: sessionID.Int32,
			Location:  location.String,
			UserAgent: userAgent.String,
			Page:      page.String,
			Song:      song.String,
			Artist:    artistName.String,
		}
		if ts.Valid {
			r.TS = &ts.Int64
		}
		if length.Valid {
			r.Length = &length.Float64
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity records: %w", err)
	}
	return records, nil
}
