package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/harmonixlabs/songlake/pkg/duck"
)

// The matched play's ts is 1542321000000, 2018-11-15T22:30:00Z.
var sampleSongFiles = map[string]string{
	"song_data/A/A/A/TRAAAAW128F429D538.json": `{"num_songs": 1, "artist_id": "ARNF6401187FB57032", "artist_latitude": 40.79086, "artist_longitude": -73.96644, "artist_location": "New York, NY [Manhattan]", "artist_name": "Sophie B. Hawkins", "song_id": "SOSVWFT12A58A7C313", "title": "Blessed Assurance", "duration": 177.5, "year": 1994}`,
	"song_data/A/B/C/TRABCEI128F424C983.json": `{"num_songs": 1, "artist_id": "ARJIE2Y1187B994AB7", "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": "Line Renaud", "song_id": "SOUPIRU12A6D4FA1E1", "title": "Der Kleine Dompfaff", "duration": 152.92036, "year": 0}`,
}

// One matched play, one unmatched play, one navigation event, one play
// without a user.
var sampleLogFile = `{"artist": "Sophie B. Hawkins", "auth": "Logged In", "firstName": "Ryan", "gender": "M", "itemInSession": 0, "lastName": "Smith", "length": 177.5, "level": "free", "location": "San Jose-Sunnyvale-Santa Clara, CA", "method": "PUT", "page": "NextSong", "sessionId": 583, "song": "Blessed Assurance", "status": 200, "ts": 1542321000000, "userAgent": "\"Mozilla/5.0\"", "userId": "26"}
{"artist": "The Smiths", "auth": "Logged In", "firstName": "Tegan", "gender": "F", "itemInSession": 1, "lastName": "Levine", "length": 42.5, "level": "paid", "location": "Portland-South Portland, ME", "method": "PUT", "page": "NextSong", "sessionId": 611, "song": "Intro", "status": 200, "ts": 1542324600000, "userAgent": "\"Mozilla/5.0\"", "userId": "80"}
{"artist": null, "auth": "Logged In", "firstName": "Tegan", "gender": "F", "itemInSession": 2, "lastName": "Levine", "length": null, "level": "paid", "location": "Portland-South Portland, ME", "method": "GET", "page": "Home", "sessionId": 611, "song": null, "status": 200, "ts": 1542324700000, "userAgent": "\"Mozilla/5.0\"", "userId": "80"}
{"artist": "Nobody", "auth": "Logged Out", "firstName": null, "gender": null, "itemInSession": 0, "lastName": null, "length": 100.5, "level": "free", "location": null, "method": "PUT", "page": "NextSong", "sessionId": 612, "song": "Anonymous", "status": 200, "ts": 1542324800000, "userAgent": null, "userId": ""}
`

func writeSampleSources(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range sampleSongFiles {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	logPath := filepath.Join(root, "log_data", "2018", "11", "2018-11-15-events.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte(sampleLogFile), 0o644))
	return root
}

func testPipeline(t *testing.T, sourceRoot, destRoot string) (*Pipeline, duck.DB) {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := duck.NewDB(ctx, log, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p, err := New(Config{
		Logger:     log,
		Clock:      clockwork.NewRealClock(),
		DB:         db,
		SourceRoot: sourceRoot,
		DestRoot:   destRoot,
	})
	require.NoError(t, err)
	return p, db
}

func queryInt(t *testing.T, conn duck.Connection, query string) int {
	t.Helper()

	var n int
	require.NoError(t, conn.QueryRowContext(context.Background(), query).Scan(&n))
	return n
}

func parquetGlob(destRoot, table string) string {
	return fmt.Sprintf("read_parquet('%s/%s/**/*.parquet', hive_partitioning = true)",
		duck.QuoteLiteral(destRoot), table)
}

func parquetFile(destRoot, table string) string {
	return fmt.Sprintf("read_parquet('%s/%s.parquet')", duck.QuoteLiteral(destRoot), table)
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sourceRoot := writeSampleSources(t)
	destRoot := filepath.Join(t.TempDir(), "output")
	p, db := testPipeline(t, sourceRoot, destRoot)

	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.SongDocs)
	require.Equal(t, 4, report.ActivityRecords)
	require.Equal(t, 2, report.Plays)
	require.Len(t, report.Tables, 5)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("row_count_matches_filtered_plays", func(t *testing.T) {
		n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_songplays"))
		require.Equal(t, report.Plays, n)
	})

	t.Run("surrogate_keys_start_at_zero_and_increase", func(t *testing.T) {
		rows, err := conn.QueryContext(ctx,
			"SELECT songplay_id FROM "+parquetGlob(destRoot, "tbl_songplays")+" ORDER BY songplay_id")
		require.NoError(t, err)
		defer rows.Close()

		want := int64(0)
		for rows.Next() {
			var id int64
			require.NoError(t, rows.Scan(&id))
			require.Equal(t, want, id)
			want++
		}
		require.NoError(t, rows.Err())
		require.Equal(t, int64(2), want)
	})

	t.Run("matched_play_resolves_song_and_artist", func(t *testing.T) {
		n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_songplays")+
			" WHERE song_id = 'SOSVWFT12A58A7C313' AND artist_id = 'ARNF6401187FB57032'")
		require.Equal(t, 1, n)
	})

	t.Run("unmatched_play_keeps_null_ids", func(t *testing.T) {
		n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_songplays")+
			" WHERE song_id IS NULL AND artist_id IS NULL")
		require.Equal(t, 1, n)
	})

	t.Run("referential_completeness", func(t *testing.T) {
		n := queryInt(t, conn, fmt.Sprintf(
			"SELECT count(*) FROM %s sp WHERE sp.song_id IS NOT NULL AND sp.song_id NOT IN (SELECT song_id FROM %s)",
			parquetGlob(destRoot, "tbl_songplays"), parquetGlob(destRoot, "tbl_songs")))
		require.Equal(t, 0, n)

		n = queryInt(t, conn, fmt.Sprintf(
			"SELECT count(*) FROM %s sp WHERE sp.user_id NOT IN (SELECT user_id FROM %s)",
			parquetGlob(destRoot, "tbl_songplays"), parquetFile(destRoot, "tbl_users")))
		require.Equal(t, 0, n)
	})

	t.Run("dimensions_are_deduplicated", func(t *testing.T) {
		require.Equal(t, 2, queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_songs")))
		require.Equal(t, 2, queryInt(t, conn, "SELECT count(*) FROM "+parquetFile(destRoot, "tbl_artists")))
		require.Equal(t, 2, queryInt(t, conn, "SELECT count(*) FROM "+parquetFile(destRoot, "tbl_users")))
		require.Equal(t, 2, queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_time")))
	})

	t.Run("time_decomposition", func(t *testing.T) {
		n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_time")+
			" WHERE hour = 22 AND day = 15 AND week = 46 AND month = 11 AND year = 2018 AND weekday = 4")
		require.Equal(t, 1, n)
	})

	t.Run("songplays_partitioned_by_year_and_month", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(destRoot, "tbl_songplays", "year=2018", "month=11"))
		require.NoError(t, err)
	})
}

func TestPipelineRun_SubSecondTimestampsStayDistinct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sourceRoot := t.TempDir()

	// Two plays 800ms apart inside the same calendar second.
	logFile := `{"artist": "A", "auth": "Logged In", "firstName": "Ryan", "gender": "M", "itemInSession": 0, "lastName": "Smith", "length": 10.5, "level": "free", "location": "San Jose-Sunnyvale-Santa Clara, CA", "method": "PUT", "page": "NextSong", "sessionId": 583, "song": "One", "status": 200, "ts": 1542321000100, "userAgent": "\"Mozilla/5.0\"", "userId": "26"}
{"artist": "B", "auth": "Logged In", "firstName": "Ryan", "gender": "M", "itemInSession": 1, "lastName": "Smith", "length": 11.5, "level": "free", "location": "San Jose-Sunnyvale-Santa Clara, CA", "method": "PUT", "page": "NextSong", "sessionId": 583, "song": "Two", "status": 200, "ts": 1542321000900, "userAgent": "\"Mozilla/5.0\"", "userId": "26"}
`
	logPath := filepath.Join(sourceRoot, "log_data", "2018", "11", "2018-11-15-events.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte(logFile), 0o644))
	for name, content := range sampleSongFiles {
		path := filepath.Join(sourceRoot, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	destRoot := filepath.Join(t.TempDir(), "output")
	p, db := testPipeline(t, sourceRoot, destRoot)

	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Plays)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	// Distinct millisecond timestamps must survive the write as distinct
	// start_time keys, both in tbl_time and in the fact rows.
	n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_time"))
	require.Equal(t, 2, n)
	n = queryInt(t, conn, "SELECT count(DISTINCT start_time) FROM "+parquetGlob(destRoot, "tbl_time"))
	require.Equal(t, 2, n)
	n = queryInt(t, conn, "SELECT count(DISTINCT start_time) FROM "+parquetGlob(destRoot, "tbl_songplays"))
	require.Equal(t, 2, n)
}

func TestPipelineRun_SecondRunOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sourceRoot := writeSampleSources(t)
	destRoot := filepath.Join(t.TempDir(), "output")
	p, db := testPipeline(t, sourceRoot, destRoot)

	_, err := p.Run(ctx)
	require.NoError(t, err)
	report, err := p.Run(ctx)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	// A rerun regenerates, it does not append.
	n := queryInt(t, conn, "SELECT count(*) FROM "+parquetGlob(destRoot, "tbl_songplays"))
	require.Equal(t, report.Plays, n)
	n = queryInt(t, conn, "SELECT count(*) FROM "+parquetFile(destRoot, "tbl_users"))
	require.Equal(t, 2, n)
}

func TestPipelineRun_MissingSourceFailsBeforeWriting(t *testing.T) {
	t.Parallel()

	destRoot := filepath.Join(t.TempDir(), "output")
	p, _ := testPipeline(t, filepath.Join(t.TempDir(), "does-not-exist"), destRoot)

	_, err := p.Run(context.Background())
	require.Error(t, err)

	entries, readErr := os.ReadDir(destRoot)
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing_logger", mutate: func(c *Config) { c.Logger = nil }, wantErr: "logger is required"},
		{name: "missing_db", mutate: func(c *Config) { c.DB = nil }, wantErr: "db is required"},
		{name: "missing_source_root", mutate: func(c *Config) { c.SourceRoot = "" }, wantErr: "source root is required"},
		{name: "missing_dest_root", mutate: func(c *Config) { c.DestRoot = "" }, wantErr: "dest root is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			realDB, err := duck.NewDB(ctx, log, "")
			require.NoError(t, err)
			t.Cleanup(func() { realDB.Close() })

			cfg := Config{
				Logger:     log,
				DB:         realDB,
				SourceRoot: "data",
				DestRoot:   "output",
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("defaults_the_clock", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		realDB, err := duck.NewDB(ctx, log, "")
		require.NoError(t, err)
		t.Cleanup(func() { realDB.Close() })

		cfg := Config{
			Logger:     log,
			DB:         realDB,
			SourceRoot: "data",
			DestRoot:   "output",
		}
		require.NoError(t, cfg.Validate())
		require.NotNil(t, cfg.Clock)
	})
}
