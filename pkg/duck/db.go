package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DB is the embedded engine the pipeline stages its tables in and issues
// reads/writes through.
type DB interface {
	Catalog() string
	Schema() string
	Close() error
	Conn(ctx context.Context) (Connection, error)
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type duckDB struct {
	dbPath  string
	db      *sql.DB
	catalog string
	schema  string
}

type duckDBConn struct {
	conn    *sql.Conn
	db      *duckDB
	writeMu sync.Mutex // serializes all write operations
}

// NewDB opens a DuckDB database at dbPath (empty path for in-memory). When an
// S3Config is supplied, the httpfs extension is loaded and an S3 secret is
// created so that s3:// globs and COPY targets resolve; with explicit keys
// the secret uses them, otherwise the default AWS credential chain.
func NewDB(ctx context.Context, log *slog.Logger, dbPath string, s3Config ...*S3Config) (*duckDB, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	row := db.QueryRowContext(ctx, "SELECT current_database() AS catalog, current_schema() AS schema")
	var catalog, schema string
	if err := row.Scan(&catalog, &schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get current database and schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("USE %s", catalog)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to use database: %w", err)
	}

	var cfg *S3Config
	if len(s3Config) > 0 && s3Config[0] != nil {
		cfg = s3Config[0]
	}
	if cfg != nil {
		if err := configureS3(ctx, log, db, cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &duckDB{
		dbPath:  dbPath,
		db:      db,
		catalog: catalog,
		schema:  schema,
	}, nil
}

// configureS3 installs httpfs and registers the S3 secret on the database.
func configureS3(ctx context.Context, log *slog.Logger, db *sql.DB, cfg *S3Config) error {
	for _, ext := range []string{"httpfs", "aws"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL '%s'", ext)); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("LOAD '%s'", ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	secretSQL := "CREATE SECRET IF NOT EXISTS s3_secret (TYPE s3"
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		secretSQL += fmt.Sprintf(", KEY_ID '%s'", strings.ReplaceAll(cfg.AccessKeyID, "'", "''"))
		secretSQL += fmt.Sprintf(", SECRET '%s'", strings.ReplaceAll(cfg.SecretAccessKey, "'", "''"))
	} else {
		// No explicit keys: fall back to the default AWS credential chain
		// (env vars, shared config, instance/IRSA roles).
		secretSQL += ", PROVIDER credential_chain"
	}
	if cfg.Endpoint != "" {
		// DuckDB's S3 secret ENDPOINT expects host:port, not a URL.
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
		secretSQL += fmt.Sprintf(", ENDPOINT '%s'", endpoint)
	}
	if cfg.Region != "" {
		secretSQL += fmt.Sprintf(", REGION '%s'", cfg.Region)
	}
	urlStyle := cfg.URLStyle
	if urlStyle == "" {
		urlStyle = "path"
	}
	secretSQL += fmt.Sprintf(", URL_STYLE '%s'", urlStyle)
	secretSQL += fmt.Sprintf(", USE_SSL %t", cfg.UseSSL)
	secretSQL += ")"

	if _, err := db.ExecContext(ctx, secretSQL); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}

	log.Info("configured S3 storage", "endpoint", cfg.Endpoint, "region", cfg.Region)
	return nil
}

func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "USE "+d.catalog); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to use database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET schema = "+d.schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set schema: %w", err)
	}

	return &duckDBConn{
		conn: conn,
		db:   d,
	}, nil
}

func (d *duckDB) Catalog() string {
	return d.catalog
}

func (d *duckDB) Schema() string {
	return d.schema
}

func (d *duckDB) Close() error {
	return d.db.Close()
}

func (c *duckDBConn) DB() DB {
	return c.db
}

func (c *duckDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.ExecContext(ctx, query, args...)
}

func (c *duckDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *duckDBConn) Close() error {
	return c.conn.Close()
}
