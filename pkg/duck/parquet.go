package duck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ParquetWrite describes one columnar output: a staged table copied to a
// parquet destination, optionally hive-partitioned by columns.
type ParquetWrite struct {
	// Table is the staged table to export.
	Table string
	// Dest is the output location: a local path or an s3:// URI.
	Dest string
	// PartitionBy lists the partition columns, outermost first. Empty means a
	// single unpartitioned file.
	PartitionBy []string
}

// CopyToParquet exports a staged table to parquet. Partitioned writes replace
// the destination directory (overwrite, not append); unpartitioned writes
// replace the destination file.
func CopyToParquet(ctx context.Context, log *slog.Logger, conn Connection, w ParquetWrite) error {
	start := time.Now()

	opts := []string{"FORMAT PARQUET"}
	if len(w.PartitionBy) > 0 {
		opts = append(opts, fmt.Sprintf("PARTITION_BY (%s)", strings.Join(w.PartitionBy, ", ")))
		opts = append(opts, "OVERWRITE TRUE")
	}

	db := conn.DB()
	copySQL := fmt.Sprintf("COPY (SELECT * FROM %s.%s.%s) TO '%s' (%s)",
		db.Catalog(), db.Schema(), w.Table,
		QuoteLiteral(w.Dest), strings.Join(opts, ", "))

	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to write parquet for %s to %s: %w", w.Table, w.Dest, err)
	}

	log.Debug("parquet write completed", "table", w.Table, "dest", w.Dest, "duration", time.Since(start).String())
	return nil
}

// QuoteLiteral escapes a string for embedding in a single-quoted SQL literal.
// DuckDB table functions and COPY targets take paths as literals, not as
// prepared-statement parameters.
func QuoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
