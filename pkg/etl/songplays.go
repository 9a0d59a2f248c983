package etl

// ComposeSongplays assembles the tbl_songplays fact rows from the filtered
// plays. Every play yields exactly one row whether or not the catalog lookup
// succeeds, so len(result) == len(plays) always holds. Surrogate keys are
// assigned monotonically in input order, starting at 0; they are stable
// within a run but not across runs if the read order changes.
func ComposeSongplays(plays []ActivityRecord, catalog *Catalog) []SongplayRow {
	rows := make([]SongplayRow, 0, len(plays))
	for i, r := range plays {
		var songID, artistID *string
		if r.Length != nil {
			if sid, aid, ok := catalog.Lookup(r.Song, r.Artist, *r.Length); ok {
				songID, artistID = &sid, &aid
			}
		}
		rows = append(rows, SongplayRow{
			SongplayID: int64(i),
			StartTime:  StartTime(r),
			UserID:     r.UserID,
			Level:      r.Level,
			SongID:     songID,
			ArtistID:   artistID,
			SessionID:  r.SessionID,
			Location:   r.Location,
			UserAgent:  r.UserAgent,
		})
	}
	return rows
}
