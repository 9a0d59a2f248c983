package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/harmonixlabs/songlake/pkg/duck"
	"github.com/harmonixlabs/songlake/pkg/pipeline"
	"github.com/harmonixlabs/songlake/pkg/pipeline/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultSourceRoot  = "data"
	defaultDestRoot    = "output"
	defaultDBPath      = ""
	defaultMetricsAddr = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	sourceRootFlag := flag.String("source-root", defaultSourceRoot, "Directory or s3:// prefix holding song_data/ and log_data/ (or set SONGLAKE_SOURCE_ROOT env var)")
	destRootFlag := flag.String("dest-root", defaultDestRoot, "Directory or s3:// prefix the parquet tables are written under (or set SONGLAKE_DEST_ROOT env var)")
	dbPathFlag := flag.String("db-path", defaultDBPath, "Path to the DuckDB database file, empty for in-memory (or set SONGLAKE_DB_PATH env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics, empty to disable (or set SONGLAKE_METRICS_ADDR env var)")
	flag.Parse()

	// Local .env for credentials and overrides, ignored when absent.
	_ = godotenv.Load()

	// Override flags with environment variables if set
	if env := os.Getenv("SONGLAKE_SOURCE_ROOT"); env != "" {
		*sourceRootFlag = env
	}
	if env := os.Getenv("SONGLAKE_DEST_ROOT"); env != "" {
		*destRootFlag = env
	}
	if env := os.Getenv("SONGLAKE_DB_PATH"); env != "" {
		*dbPathFlag = env
	}
	if env := os.Getenv("SONGLAKE_METRICS_ADDR"); env != "" {
		*metricsAddrFlag = env
	}

	log := newLogger(*verboseFlag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("received signal", "signal", sig.String())
		cancel()
	}()

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	s3Config, err := duck.PrepareS3Config(ctx, log, *sourceRootFlag, *destRootFlag)
	if err != nil {
		return err
	}

	log.Info("initializing database", "path", *dbPathFlag)
	db, err := duck.NewDB(ctx, log, *dbPathFlag, s3Config)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		Logger:     log,
		Clock:      clockwork.NewRealClock(),
		DB:         db,
		SourceRoot: *sourceRootFlag,
		DestRoot:   *destRootFlag,
	})
	if err != nil {
		return err
	}

	log.Info("starting run", "version", version, "source", *sourceRootFlag, "dest", *destRootFlag)
	report, err := p.Run(ctx)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(report *pipeline.RunReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Table", "Rows", "Partitioned By", "Destination"})

	for _, t := range report.Tables {
		partitionBy := "-"
		if len(t.PartitionBy) > 0 {
			partitionBy = fmt.Sprintf("%v", t.PartitionBy)
		}
		table.Append([]string{t.Name, strconv.Itoa(t.Rows), partitionBy, t.Dest})
	}
	table.Render()

	fmt.Printf("Processed %d song documents and %d activity records (%d plays) in %s\n",
		report.SongDocs, report.ActivityRecords, report.Plays, report.Duration.Round(time.Millisecond))
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
