package duck

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestConn opens a throwaway file-backed database in the test's temp dir
// and returns a connection to it. Both are closed via t.Cleanup.
func newTestConn(t *testing.T) Connection {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := NewDB(ctx, log, filepath.Join(t.TempDir(), "songlake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

var errConnBroken = errors.New("connection broken")

// brokenConn fails every operation; it stands in for a connection whose
// database has gone away mid-run.
type brokenConn struct{}

func (brokenConn) DB() DB { return brokenDB{} }

func (brokenConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errConnBroken
}

func (brokenConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errConnBroken
}

func (brokenConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (brokenConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errConnBroken
}

func (brokenConn) Close() error { return nil }

type brokenDB struct{}

func (brokenDB) Catalog() string { return "songlake" }

func (brokenDB) Schema() string { return "main" }

func (brokenDB) Close() error { return nil }

func (brokenDB) Conn(ctx context.Context) (Connection, error) { return brokenConn{}, nil }
