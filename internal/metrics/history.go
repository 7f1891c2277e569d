package metrics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/ocr-batch/dashboard/internal/models"
)

// HistoryOptions tunes the DuckDB connection.
type HistoryOptions struct {
	Threads     int
	MemoryLimit string
}

// History persists batch samples in a DuckDB file so charts survive restarts.
type History struct {
	db     *sql.DB
	dbPath string
}

// OpenHistory opens (creating when missing) the history database at dbPath.
func OpenHistory(dbPath string, opts HistoryOptions) (*History, error) {
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	fmt.Printf("[Metrics] Opening history database at: %s\n", dbPath)
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[Metrics] Pragma warning: %v\n", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_metrics (
			batch_id        VARCHAR NOT NULL,
			ts              BIGINT NOT NULL,
			file_count      INTEGER NOT NULL,
			avg_cpu         DOUBLE,
			avg_memory_mb   DOUBLE,
			processing_sec  DOUBLE,
			error_count     INTEGER,
			avg_confidence  DOUBLE
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &History{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (h *History) Path() string {
	return h.dbPath
}

// Insert stores one sample.
func (h *History) Insert(ctx context.Context, s models.BatchMetricSample) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO batch_metrics VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.BatchID,
		s.Timestamp.UnixMilli(),
		s.FileCount,
		s.AvgCPUPercent,
		s.AvgMemoryMB,
		s.ProcessingTimeSec,
		s.ErrorCount,
		s.AvgConfidencePercent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert metric sample: %w", err)
	}
	return nil
}

// Recent returns up to limit samples, oldest first.
func (h *History) Recent(ctx context.Context, limit int) ([]models.BatchMetricSample, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT batch_id, ts, file_count, avg_cpu, avg_memory_mb, processing_sec, error_count, avg_confidence
			FROM batch_metrics
			ORDER BY ts DESC
			LIMIT %d
		) ORDER BY ts ASC
	`, limit)
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric history: %w", err)
	}
	defer rows.Close()

	var out []models.BatchMetricSample
	for rows.Next() {
		var s models.BatchMetricSample
		var ts int64
		if err := rows.Scan(&s.BatchID, &ts, &s.FileCount, &s.AvgCPUPercent, &s.AvgMemoryMB,
			&s.ProcessingTimeSec, &s.ErrorCount, &s.AvgConfidencePercent); err != nil {
			return nil, fmt.Errorf("failed to scan metric sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summary aggregates every stored sample.
func (h *History) Summary(ctx context.Context) (models.MetricsSummary, error) {
	var sum models.MetricsSummary
	row := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			CAST(COALESCE(SUM(file_count), 0) AS BIGINT),
			CAST(COALESCE(SUM(error_count), 0) AS BIGINT),
			COALESCE(AVG(processing_sec), 0),
			COALESCE(AVG(avg_cpu), 0),
			COALESCE(AVG(avg_memory_mb), 0),
			COALESCE(AVG(avg_confidence), 0)
		FROM batch_metrics
	`)
	if err := row.Scan(&sum.TotalBatches, &sum.TotalFiles, &sum.TotalErrors, &sum.AvgProcessingTimeSec,
		&sum.AvgCPUPercent, &sum.AvgMemoryMB, &sum.AvgConfidencePercent); err != nil {
		return models.MetricsSummary{}, fmt.Errorf("failed to summarize metric history: %w", err)
	}
	return sum, nil
}

// Close closes the database. The file is kept.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
