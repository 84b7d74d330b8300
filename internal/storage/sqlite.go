package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/yoho/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forecast_exports (
	id            TEXT PRIMARY KEY,
	result_id     TEXT NOT NULL,
	run           TEXT NOT NULL,
	loa           TEXT NOT NULL,
	violence_type TEXT NOT NULL,
	descriptor    TEXT NOT NULL,
	record_count  INTEGER NOT NULL,
	retrieved_at  TEXT NOT NULL,
	exported_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS forecast_records (
	export_id   TEXT NOT NULL REFERENCES forecast_exports (id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	priogrid_id TEXT NOT NULL,
	country_id  TEXT NOT NULL,
	month_id    TEXT NOT NULL,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	metrics     TEXT NOT NULL,
	PRIMARY KEY (export_id, seq)
);
`

// SQLiteExporter writes results to a local SQLite file.
type SQLiteExporter struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteExporter opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteExporter(ctx context.Context, path string, logger *slog.Logger) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`, sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: init sqlite %s: %w", path, err)
		}
	}
	return &SQLiteExporter{db: db, path: path, logger: logger}, nil
}

// Export inserts the result header and its records in one transaction.
func (e *SQLiteExporter) Export(ctx context.Context, result model.Result) (ExportReceipt, error) {
	exportID := uuid.New()
	scope := result.Descriptor.Scope()

	descriptor, err := json.Marshal(result.Descriptor)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: marshal descriptor: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: begin sqlite export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO forecast_exports (id, result_id, run, loa, violence_type, descriptor, record_count, retrieved_at, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exportID.String(), result.ID.String(), scope.Run, scope.LoA, scope.ViolenceType,
		string(descriptor), len(result.Records),
		result.RetrievedAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: insert sqlite export: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO forecast_records (export_id, seq, priogrid_id, country_id, month_id, lat, lon, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: prepare sqlite records: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range result.Records {
		metrics, err := marshalMetrics(r.Metrics)
		if err != nil {
			return ExportReceipt{}, err
		}
		if _, err := stmt.ExecContext(ctx,
			exportID.String(), i, r.PriogridID.String(), r.CountryID.String(), r.MonthID.String(),
			r.Lat, r.Lon, string(metrics),
		); err != nil {
			return ExportReceipt{}, fmt.Errorf("storage: insert sqlite record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: commit sqlite export: %w", err)
	}

	e.logger.Info("storage: exported result", "backend", "sqlite", "export_id", exportID, "records", len(result.Records))
	return ExportReceipt{
		ExportID: exportID,
		Records:  len(result.Records),
		Location: "sqlite:" + e.path + "#" + exportID.String(),
	}, nil
}

// Close closes the database.
func (e *SQLiteExporter) Close() error {
	return e.db.Close()
}
