package etl

import "time"

// NextSongPage marks the activity events that represent an actual song play.
// Every derived table is computed from records with this page value only.
const NextSongPage = "NextSong"

// FilterPlays keeps the records all downstream tables derive from: page must
// equal NextSongPage, and the record must carry both a timestamp and a user
// id. Records failing the key checks are dropped from every derived output,
// never partially included.
func FilterPlays(records []ActivityRecord) []ActivityRecord {
	plays := make([]ActivityRecord, 0, len(records))
	for _, r := range records {
		if r.Page != NextSongPage {
			continue
		}
		if r.TS == nil || r.UserID == "" {
			continue
		}
		plays = append(plays, r)
	}
	return plays
}

// StartTime converts a record's epoch-millisecond timestamp to the UTC
// calendar timestamp shared by tbl_time and tbl_songplays. Callers must have
// filtered out records without a timestamp.
func StartTime(r ActivityRecord) time.Time {
	return time.UnixMilli(*r.TS).UTC()
}

// BuildUsers projects filtered plays onto tbl_users rows, deduplicated by
// user_id, first seen wins.
func BuildUsers(plays []ActivityRecord) []UserRow {
	rows := make([]UserRow, 0, len(plays))
	seen := make(map[string]struct{}, len(plays))
	for _, r := range plays {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		rows = append(rows, UserRow{
			UserID:    r.UserID,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Gender:    r.Gender,
			Level:     r.Level,
		})
	}
	return rows
}

// BuildTimes derives one tbl_time row per distinct start_time among the
// filtered plays, in first-seen order.
func BuildTimes(plays []ActivityRecord) []TimeRow {
	rows := make([]TimeRow, 0, len(plays))
	seen := make(map[int64]struct{}, len(plays))
	for _, r := range plays {
		ts := StartTime(r)
		key := ts.UnixMilli()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, DecomposeTime(ts))
	}
	return rows
}

// DecomposeTime splits a timestamp into the tbl_time calendar fields.
func DecomposeTime(ts time.Time) TimeRow {
	_, week := ts.ISOWeek()
	return TimeRow{
		StartTime: ts,
		Hour:      ts.Hour(),
		Day:       ts.Day(),
		Week:      week,
		Month:     int(ts.Month()),
		Year:      ts.Year(),
		Weekday:   int(ts.Weekday()),
	}
}
