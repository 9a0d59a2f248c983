// Package pipeline orchestrates the full ETL run: read the raw song and
// activity sources, apply the transforms, and write the five star-schema
// tables as parquet. The transforms themselves live in pkg/etl; the staging
// and parquet machinery in pkg/duck.
package pipeline

import (
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/harmonixlabs/songlake/pkg/duck"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	DB     duck.DB

	// SourceRoot is the directory or s3:// prefix holding song_data/ and
	// log_data/.
	SourceRoot string

	// DestRoot is the directory or s3:// prefix the parquet tables are
	// written under.
	DestRoot string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DB == nil {
		return errors.New("db is required")
	}
	if c.SourceRoot == "" {
		return errors.New("source root is required")
	}
	if c.DestRoot == "" {
		return errors.New("dest root is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}
