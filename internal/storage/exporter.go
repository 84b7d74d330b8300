package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/yoho/internal/model"
)

// ExportReceipt identifies where an exported result ended up.
type ExportReceipt struct {
	ExportID uuid.UUID `json:"export_id"`
	Records  int       `json:"records"`
	Location string    `json:"location"`
}

// Exporter persists retrieval results for downstream analysis. Exports
// are write-only from the engine's point of view.
type Exporter interface {
	Export(ctx context.Context, result model.Result) (ExportReceipt, error)
	Close() error
}

// Multi fans an export out to every exporter in order. All exporters are
// attempted; their errors are joined. The returned receipt carries the
// first successful export ID and every location, separated by "; ".
type Multi []Exporter

// Export implements Exporter.
func (m Multi) Export(ctx context.Context, result model.Result) (ExportReceipt, error) {
	if len(m) == 0 {
		return ExportReceipt{}, fmt.Errorf("storage: no exporters configured")
	}
	var (
		out       ExportReceipt
		locations []string
		errs      []error
	)
	for _, e := range m {
		receipt, err := e.Export(ctx, result)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.ExportID == uuid.Nil {
			out.ExportID = receipt.ExportID
		}
		out.Records = receipt.Records
		locations = append(locations, receipt.Location)
	}
	out.Location = strings.Join(locations, "; ")
	return out, errors.Join(errs...)
}

// Close closes every exporter and joins the errors.
func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}
