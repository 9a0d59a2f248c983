// Package etl holds the transformations from raw song metadata documents and
// application activity logs to the star-schema tables. Everything here is
// pure: reading raw records and writing tables is the pipeline's job.
package etl

import "time"

// SongDoc is one raw song metadata document.
type SongDoc struct {
	SongID          string
	Title           string
	ArtistID        string
	ArtistName      string
	ArtistLocation  string
	ArtistLatitude  *float64
	ArtistLongitude *float64
	Year            int32
	Duration        float64
}

// ActivityRecord is one raw application activity log event. TS and Length are
// pointers because raw logs carry nulls; UserID is empty when the event was
// not attributed to a user.
type ActivityRecord struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
	TS        *int64 // epoch milliseconds
	SessionID int32
	Location  string
	UserAgent string
	Page      string
	Song      string
	Artist    string
	Length    *float64
}

// SongRow is one tbl_songs dimension row, keyed by SongID.
type SongRow struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int32
	Duration float64
}

// ArtistRow is one tbl_artists dimension row, keyed by ArtistID.
type ArtistRow struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// UserRow is one tbl_users dimension row, keyed by UserID. Level is a
// snapshot: whichever record survives deduplication wins, so a user that
// switched tiers mid-history shows a single level here.
type UserRow struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// TimeRow is one tbl_time dimension row, keyed by StartTime. Week is the ISO
// week number; Weekday follows Go's convention (Sunday=0 .. Saturday=6).
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// SongplayRow is one tbl_songplays fact row. SongID and ArtistID are nil when
// the play could not be matched against the song catalog, which is the common
// case and not an error.
type SongplayRow struct {
	SongplayID int64
	StartTime  time.Time
	UserID     string
	Level      string
	SongID     *string
	ArtistID   *string
	SessionID  int32
	Location   string
	UserAgent  string
}
