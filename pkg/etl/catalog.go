package etl

// BuildSongs projects song documents onto tbl_songs rows, deduplicated by
// song_id. The first document seen for a key wins; documents without a
// song_id are dropped.
func BuildSongs(docs []SongDoc) []SongRow {
	rows := make([]SongRow, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc.SongID == "" {
			continue
		}
		if _, ok := seen[doc.SongID]; ok {
			continue
		}
		seen[doc.SongID] = struct{}{}
		rows = append(rows, SongRow{
			SongID:   doc.SongID,
			Title:    doc.Title,
			ArtistID: doc.ArtistID,
			Year:     doc.Year,
			Duration: doc.Duration,
		})
	}
	return rows
}

// BuildArtists projects song documents onto tbl_artists rows, deduplicated by
// artist_id with the same first-seen-wins policy. When the same artist_id
// appears with conflicting names or locations across documents, the first
// occurrence is kept; that ambiguity is accepted, the raw catalog does not
// guarantee consistency.
func BuildArtists(docs []SongDoc) []ArtistRow {
	rows := make([]ArtistRow, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc.ArtistID == "" {
			continue
		}
		if _, ok := seen[doc.ArtistID]; ok {
			continue
		}
		seen[doc.ArtistID] = struct{}{}
		rows = append(rows, ArtistRow{
			ArtistID:  doc.ArtistID,
			Name:      doc.ArtistName,
			Location:  doc.ArtistLocation,
			Latitude:  doc.ArtistLatitude,
			Longitude: doc.ArtistLongitude,
		})
	}
	return rows
}

type trackKey struct {
	title    string
	artist   string
	duration float64
}

type trackIDs struct {
	songID   string
	artistID string
}

// Catalog resolves (title, artist name, duration) triples to song and artist
// identifiers for the fact join.
type Catalog struct {
	tracks map[trackKey]trackIDs
}

// BuildCatalog indexes song documents by (title, artist name, duration).
// Documents missing either identifier cannot contribute a resolvable entry
// and are skipped. Duplicate keys keep the first occurrence.
func BuildCatalog(docs []SongDoc) *Catalog {
	tracks := make(map[trackKey]trackIDs, len(docs))
	for _, doc := range docs {
		if doc.SongID == "" || doc.ArtistID == "" {
			continue
		}
		key := trackKey{title: doc.Title, artist: doc.ArtistName, duration: doc.Duration}
		if _, ok := tracks[key]; ok {
			continue
		}
		tracks[key] = trackIDs{songID: doc.SongID, artistID: doc.ArtistID}
	}
	return &Catalog{tracks: tracks}
}

// Lookup resolves a played track. Duration must match exactly; there is no
// tolerance band.
func (c *Catalog) Lookup(song, artist string, length float64) (songID, artistID string, ok bool) {
	ids, ok := c.tracks[trackKey{title: song, artist: artist, duration: length}]
	if !ok {
		return "", "", false
	}
	return ids.songID, ids.artistID, true
}

// Len returns the number of resolvable catalog entries.
func (c *Catalog) Len() int {
	return len(c.tracks)
}
