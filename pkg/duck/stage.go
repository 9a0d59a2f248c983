package duck

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// TableSpec describes a staged table.
type TableSpec struct {
	// Name is the table name.
	Name string
	// Columns defines all columns (in order) as name:type pairs,
	// e.g. "start_time:TIMESTAMP", "user_id:VARCHAR".
	Columns []string
}

// ColumnNames returns the column names without their types.
func (s TableSpec) ColumnNames() ([]string, error) {
	names := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		parts := strings.SplitN(col, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", col)
		}
		names = append(names, strings.TrimSpace(parts[0]))
	}
	return names, nil
}

func (s TableSpec) columnDefs() ([]string, error) {
	defs := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		parts := strings.SplitN(col, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", col)
		}
		defs = append(defs, fmt.Sprintf("%s %s", strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])))
	}
	return defs, nil
}

// ReplaceViaCSV regenerates a table from scratch:
//   - writes the rows to a temp CSV (empty fields become NULL)
//   - replaces the table and loads the CSV through a VARCHAR staging table
//     inside one transaction, so the table is never observed half-loaded
//
// Each run fully rebuilds its tables, so the table is created with
// CREATE OR REPLACE rather than appended to.
func ReplaceViaCSV(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	spec TableSpec,
	count int,
	writeCSVFn func(*csv.Writer, int) error,
) error {
	loadStart := time.Now()
	defer func() {
		log.Debug("table load completed",
			"table", spec.Name,
			"rows", count,
			"duration", time.Since(loadStart).String())
	}()

	if len(spec.Columns) == 0 {
		return fmt.Errorf("columns cannot be empty")
	}
	colDefs, err := spec.columnDefs()
	if err != nil {
		return err
	}
	colNames, err := spec.ColumnNames()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("%s_rows_*.csv", spec.Name))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	csvWriter := csv.NewWriter(tmpFile)
	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during CSV writing: %w", ctx.Err())
		default:
		}

		if err := writeCSVFn(csvWriter, i); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	return retryConflicts(ctx, log, fmt.Sprintf("table %s", spec.Name), func() error {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled before transaction for %s: %w", spec.Name, ctx.Err())
		default:
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", spec.Name, err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", "table", spec.Name, "error", err)
			}
		}()

		db := conn.DB()

		createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s.%s.%s (\n\t%s\n)",
			db.Catalog(), db.Schema(), spec.Name,
			strings.Join(colDefs, ",\n\t"))
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}

		if count > 0 {
			// Stage everything as VARCHAR to simplify CSV loading; DuckDB
			// converts types on INSERT.
			stageTableName := fmt.Sprintf("%s_stage", spec.Name)
			stageDefs := make([]string, 0, len(colNames))
			for _, name := range colNames {
				stageDefs = append(stageDefs, fmt.Sprintf("%s VARCHAR", name))
			}
			stageSQL := fmt.Sprintf("CREATE TEMP TABLE %s (\n\t%s\n)",
				stageTableName, strings.Join(stageDefs, ",\n\t"))
			if _, err := tx.ExecContext(ctx, stageSQL); err != nil {
				return fmt.Errorf("failed to create stage table: %w", err)
			}

			copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false)", stageTableName, tmpFile.Name())
			if _, err := tx.ExecContext(ctx, copySQL); err != nil {
				return fmt.Errorf("failed to COPY FROM CSV: %w", err)
			}

			colList := strings.Join(colNames, ", ")
			insertSQL := fmt.Sprintf("INSERT INTO %s.%s.%s (%s)\n\tSELECT %s FROM %s",
				db.Catalog(), db.Schema(), spec.Name,
				colList, colList, stageTableName)
			if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
				return fmt.Errorf("failed to insert into table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTableName)); err != nil {
				log.Error("failed to drop stage table", "error", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	})
}
