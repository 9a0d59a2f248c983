package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harmonixlabs/songlake/pkg/duck"
	"github.com/harmonixlabs/songlake/pkg/etl"
	"github.com/harmonixlabs/songlake/pkg/pipeline/metrics"
)

type Pipeline struct {
	log *slog.Logger
	cfg Config
}

// TableReport records one table written during a run.
type TableReport struct {
	Name        string
	Rows        int
	Dest        string
	PartitionBy []string
}

// RunReport summarizes a completed run.
type RunReport struct {
	SongDocs        int
	ActivityRecords int
	Plays           int
	Tables          []TableReport
	Duration        time.Duration
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run executes the three stages in order: song catalog, activity, then the
// songplays fact. Every table is fully regenerated; a failure in any read or
// write aborts the run with the error. The returned report carries per-table
// row counts and destinations.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	start := p.cfg.Clock.Now()
	report := &RunReport{}

	if !strings.HasPrefix(p.cfg.DestRoot, "s3://") {
		if err := os.MkdirAll(p.cfg.DestRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	conn, err := p.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.log.Error("failed to close connection", "error", err)
		}
	}()

	catalog, err := p.runCatalogStage(ctx, conn, report)
	if err != nil {
		return nil, err
	}

	plays, err := p.runActivityStage(ctx, conn, report)
	if err != nil {
		return nil, err
	}

	if err := p.runFactStage(ctx, conn, plays, catalog, report); err != nil {
		return nil, err
	}

	report.Duration = p.cfg.Clock.Since(start)
	metrics.RunDuration.Set(report.Duration.Seconds())
	p.log.Info("job completed",
		"song_docs", report.SongDocs,
		"activity_records", report.ActivityRecords,
		"plays", report.Plays,
		"duration", report.Duration.String())
	return report, nil
}

// runCatalogStage reads the song documents, writes tbl_songs and tbl_artists,
// and returns the in-memory catalog the fact stage joins against.
func (p *Pipeline) runCatalogStage(ctx context.Context, conn duck.Connection, report *RunReport) (*etl.Catalog, error) {
	p.log.Info("reading song data", "source", joinPrefix(p.cfg.SourceRoot, songGlob))
	docs, err := readSongDocs(ctx, conn, p.cfg.SourceRoot)
	if err != nil {
		return nil, err
	}
	report.SongDocs = len(docs)
	metrics.RecordsRead.WithLabelValues("song_data").Add(float64(len(docs)))
	p.log.Info("read song data", "documents", len(docs))

	songs := etl.BuildSongs(docs)
	metrics.RecordsDropped.WithLabelValues("song_data").Add(float64(len(docs) - len(songs)))

	p.log.Info("writing songs table partitioned by year and artist")
	dest, err := writeSongs(ctx, p.log, conn, songs, p.cfg.DestRoot)
	if err != nil {
		return nil, err
	}
	p.recordTable(report, "tbl_songs", len(songs), dest, []string{"year", "artist_id"})

	artists := etl.BuildArtists(docs)
	p.log.Info("writing artists table")
	dest, err = writeArtists(ctx, p.log, conn, artists, p.cfg.DestRoot)
	if err != nil {
		return nil, err
	}
	p.recordTable(report, "tbl_artists", len(artists), dest, nil)

	return etl.BuildCatalog(docs), nil
}

// runActivityStage reads the activity logs, filters them down to plays,
// writes tbl_users and tbl_time, and returns the filtered plays.
func (p *Pipeline) runActivityStage(ctx context.Context, conn duck.Connection, report *RunReport) ([]etl.ActivityRecord, error) {
	p.log.Info("reading log data", "source", joinPrefix(p.cfg.SourceRoot, logGlob))
	records, err := readActivity(ctx, conn, p.cfg.SourceRoot)
	if err != nil {
		return nil, err
	}
	report.ActivityRecords = len(records)
	metrics.RecordsRead.WithLabelValues("log_data").Add(float64(len(records)))

	plays := etl.FilterPlays(records)
	report.Plays = len(plays)
	metrics.RecordsDropped.WithLabelValues("log_data").Add(float64(len(records) - len(plays)))
	p.log.Info("read log data", "records", len(records), "plays", len(plays))

	users := etl.BuildUsers(plays)
	p.log.Info("writing users table")
	dest, err := writeUsers(ctx, p.log, conn, users, p.cfg.DestRoot)
	if err != nil {
		return nil, err
	}
	p.recordTable(report, "tbl_users", len(users), dest, nil)

	times := etl.BuildTimes(plays)
	p.log.Info("writing time table partitioned by year and month")
	dest, err = writeTimes(ctx, p.log, conn, times, p.cfg.DestRoot)
	if err != nil {
		return nil, err
	}
	p.recordTable(report, "tbl_time", len(times), dest, []string{"year", "month"})

	return plays, nil
}

// runFactStage joins the plays against the catalog and writes tbl_songplays.
func (p *Pipeline) runFactStage(ctx context.Context, conn duck.Connection, plays []etl.ActivityRecord, catalog *etl.Catalog, report *RunReport) error {
	songplays := etl.ComposeSongplays(plays, catalog)

	p.log.Info("writing songplays table partitioned by year and month")
	dest, err := writeSongplays(ctx, p.log, conn, songplays, p.cfg.DestRoot)
	if err != nil {
		return err
	}
	p.recordTable(report, "tbl_songplays", len(songplays), dest, []string{"year", "month"})
	return nil
}

func (p *Pipeline) recordTable(report *RunReport, name string, rows int, dest string, partitionBy []string) {
	metrics.RowsWritten.WithLabelValues(name).Add(float64(rows))
	report.Tables = append(report.Tables, TableReport{
		Name:        name,
		Rows:        rows,
		Dest:        dest,
		PartitionBy: partitionBy,
	})
}
