package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/yoho/internal/model"
)

var recordColumns = []string{
	"export_id", "seq", "priogrid_id", "country_id", "month_id", "lat", "lon", "metrics",
}

// PostgresExporter writes results to forecast_exports and forecast_records.
type PostgresExporter struct {
	db     *DB
	owned  bool
	logger *slog.Logger
}

// NewPostgresExporter connects to dsn and applies the migrations in
// migrationsFS before returning.
func NewPostgresExporter(ctx context.Context, dsn string, migrationsFS fs.FS, logger *slog.Logger) (*PostgresExporter, error) {
	db, err := New(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrationsFS); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresExporter{db: db, owned: true, logger: logger}, nil
}

// NewPostgresExporterWithDB exports through an existing, already migrated DB.
// Close leaves the DB open.
func NewPostgresExporterWithDB(db *DB, logger *slog.Logger) *PostgresExporter {
	return &PostgresExporter{db: db, logger: logger}
}

// Export writes the result header and bulk-loads its records with COPY in
// one transaction, retried on serialization failures and deadlocks.
func (e *PostgresExporter) Export(ctx context.Context, result model.Result) (ExportReceipt, error) {
	exportID := uuid.New()
	scope := result.Descriptor.Scope()

	descriptor, err := json.Marshal(result.Descriptor)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: marshal descriptor: %w", err)
	}
	rows, err := copyRows(exportID, result.Records)
	if err != nil {
		return ExportReceipt{}, err
	}

	var copied int64
	err = WithRetry(ctx, exportRetries, exportBaseDelay, func() error {
		tx, err := e.db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin export: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx,
			`INSERT INTO forecast_exports (id, result_id, run, loa, violence_type, descriptor, record_count, retrieved_at, exported_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			exportID, result.ID, scope.Run, scope.LoA, scope.ViolenceType,
			descriptor, len(result.Records), result.RetrievedAt, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("storage: insert export: %w", err)
		}

		copied, err = tx.CopyFrom(ctx, pgx.Identifier{"forecast_records"}, recordColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("storage: copy records: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return ExportReceipt{}, err
	}

	e.logger.Info("storage: exported result", "backend", "postgres", "export_id", exportID, "records", copied)
	return ExportReceipt{
		ExportID: exportID,
		Records:  int(copied),
		Location: "postgres:forecast_exports/" + exportID.String(),
	}, nil
}

// Close releases the pool when the exporter opened it.
func (e *PostgresExporter) Close() error {
	if e.owned {
		e.db.Close()
	}
	return nil
}

func copyRows(exportID uuid.UUID, records []model.Record) ([][]any, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		metrics, err := marshalMetrics(r.Metrics)
		if err != nil {
			return nil, err
		}
		rows[i] = []any{
			exportID, i, r.PriogridID.String(), r.CountryID.String(), r.MonthID.String(),
			r.Lat, r.Lon, metrics,
		}
	}
	return rows, nil
}

// marshalMetrics renders a metric map as a JSON object; nil maps become {}.
func marshalMetrics(m map[string]*float64) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal metrics: %w", err)
	}
	return b, nil
}
