package pipeline

import (
	"context"
	"encoding/csv"
	"log/slog"
	"strconv"
	"time"

	"github.com/harmonixlabs/songlake/pkg/duck"
	"github.com/harmonixlabs/songlake/pkg/etl"
)

var (
	songsSpec = duck.TableSpec{
		Name: "tbl_songs",
		Columns: []string{
			"song_id:VARCHAR",
			"title:VARCHAR",
			"artist_id:VARCHAR",
			"year:INTEGER",
			"duration:DOUBLE",
		},
	}
	artistsSpec = duck.TableSpec{
		Name: "tbl_artists",
		Columns: []string{
			"artist_id:VARCHAR",
			"name:VARCHAR",
			"location:VARCHAR",
			"latitude:DOUBLE",
			"longitude:DOUBLE",
		},
	}
	usersSpec = duck.TableSpec{
		Name: "tbl_users",
		Columns: []string{
			"user_id:VARCHAR",
			"first_name:VARCHAR",
			"last_name:VARCHAR",
			"gender:VARCHAR",
			"level:VARCHAR",
		},
	}
	timeSpec = duck.TableSpec{
		Name: "tbl_time",
		Columns: []string{
			"start_time:TIMESTAMP",
			"hour:INTEGER",
			"day:INTEGER",
			"week:INTEGER",
			"month:INTEGER",
			"year:INTEGER",
			"weekday:INTEGER",
		},
	}
	// year and month are derived from start_time; they exist as columns so
	// the parquet write can partition on them.
	songplaysSpec = duck.TableSpec{
		Name: "tbl_songplays",
		Columns: []string{
			"songplay_id:BIGINT",
			"start_time:TIMESTAMP",
			"user_id:VARCHAR",
			"level:VARCHAR",
			"song_id:VARCHAR",
			"artist_id:VARCHAR",
			"session_id:INTEGER",
			"location:VARCHAR",
			"user_agent:VARCHAR",
			"year:INTEGER",
			"month:INTEGER",
		},
	}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Empty CSV fields load as NULL in the staging table.
func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatStringPtr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Millisecond precision: the raw ts is epoch millis, and tbl_time is keyed by
// start_time, so truncating to whole seconds would collapse distinct keys.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

// tableWrite stages rows into a typed table and copies it out to parquet,
// returning the destination it wrote.
func tableWrite(
	ctx context.Context,
	log *slog.Logger,
	conn duck.Connection,
	spec duck.TableSpec,
	count int,
	dest string,
	partitionBy []string,
	writeRow func(*csv.Writer, int) error,
) (string, error) {
	if err := duck.ReplaceViaCSV(ctx, log, conn, spec, count, writeRow); err != nil {
		return "", err
	}
	if err := duck.CopyToParquet(ctx, log, conn, duck.ParquetWrite{
		Table:       spec.Name,
		Dest:        dest,
		PartitionBy: partitionBy,
	}); err != nil {
		return "", err
	}
	return dest, nil
}

func writeSongs(ctx context.Context, log *slog.Logger, conn duck.Connection, rows []etl.SongRow, destRoot string) (string, error) {
	return tableWrite(ctx, log, conn, songsSpec, len(rows),
		joinPrefix(destRoot, "tbl_songs"), []string{"year", "artist_id"},
		func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				r.SongID,
				r.Title,
				r.ArtistID,
				strconv.FormatInt(int64(r.Year), 10),
				formatFloat(r.Duration),
			})
		})
}

func writeArtists(ctx context.Context, log *slog.Logger, conn duck.Connection, rows []etl.ArtistRow, destRoot string) (string, error) {
	return tableWrite(ctx, log, conn, artistsSpec, len(rows),
		joinPrefix(destRoot, "tbl_artists.parquet"), nil,
		func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				r.ArtistID,
				r.Name,
				r.Location,
				formatFloatPtr(r.Latitude),
				formatFloatPtr(r.Longitude),
			})
		})
}

func writeUsers(ctx context.Context, log *slog.Logger, conn duck.Connection, rows []etl.UserRow, destRoot string) (string, error) {
	return tableWrite(ctx, log, conn, usersSpec, len(rows),
		joinPrefix(destRoot, "tbl_users.parquet"), nil,
		func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{r.UserID, r.FirstName, r.LastName, r.Gender, r.Level})
		})
}

func writeTimes(ctx context.Context, log *slog.Logger, conn duck.Connection, rows []etl.TimeRow, destRoot string) (string, error) {
	return tableWrite(ctx, log, conn, timeSpec, len(rows),
		joinPrefix(destRoot, "tbl_time"), []string{"year", "month"},
		func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				formatTime(r.StartTime),
				strconv.Itoa(r.Hour),
				strconv.Itoa(r.Day),
				strconv.Itoa(r.Week),
				strconv.Itoa(r.Month),
				strconv.Itoa(r.Year),
				strconv.Itoa(r.Weekday),
			})
		})
}

func writeSongplays(ctx context.Context, log *slog.Logger, conn duck.Connection, rows []etl.SongplayRow, destRoot string) (string, error) {
	return tableWrite(ctx, log, conn, songplaysSpec, len(rows),
		joinPrefix(destRoot, "tbl_songplays"), []string{"year", "month"},
		func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				strconv.FormatInt(r.SongplayID, 10),
				formatTime(r.StartTime),
				r.UserID,
				r.Level,
				formatStringPtr(r.SongID),
				formatStringPtr(r.ArtistID),
				strconv.FormatInt(int64(r.SessionID), 10),
				r.Location,
				r.UserAgent,
				strconv.Itoa(r.StartTime.Year()),
				strconv.Itoa(int(r.StartTime.Month())),
			})
		})
}
