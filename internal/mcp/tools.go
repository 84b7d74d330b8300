package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/selection"
)

// defaultRecordLimit caps how many records a tool response carries. The
// full result is always available from the yoho://results resource.
const defaultRecordLimit = 50

func (s *Server) registerTools() {
	// yoho_state: current selection, option availability and result summary.
	s.mcpServer.AddTool(
		mcplib.NewTool("yoho_state",
			mcplib.WithDescription(`Show the current query state.

WHAT YOU GET BACK:
- status: idle, options_loading, cells_loading, ready, fetching or failed
- selection: the live run/loa/violence_type, months, country, cells, metrics
- options: which option lists are loaded and how many values each has
- failure: what went wrong, when status is failed
- result: a summary of the last successful retrieval

Read yoho://options/{field} for the full option list of a field.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.limited("yoho_state", s.handleState),
	)

	// yoho_select: set one filter field.
	s.mcpServer.AddTool(
		mcplib.NewTool("yoho_select",
			mcplib.WithDescription(`Set one filter field.

Fields, highest first: run, loa, violence_type, months, country, cells, metrics.
Changing run, loa or violence_type reloads the option lists and clears
months, country, cells and metrics. Changing country reloads the cell list
and clears cells.

Values must come from the field's option list (yoho://options/{field}).
Pass an empty values list to clear months, country, cells or metrics.

EXAMPLES:
- field="run", values=["v2"]
- field="months", values=["500","501"]
- field="country", values=["840"]
- field="country", values=[] clears the country`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("field",
				mcplib.Description("Field to set: run, loa, violence_type, months, country, cells or metrics"),
				mcplib.Required(),
			),
			mcplib.WithArray("values",
				mcplib.Description("Values to select. Scope fields take exactly one value; country takes at most one."),
				mcplib.WithStringItems(),
			),
			mcplib.WithBoolean("wait",
				mcplib.Description("Wait for option lists to finish loading before returning"),
				mcplib.DefaultBool(true),
			),
		),
		s.limited("yoho_select", s.handleSelect),
	)

	// yoho_clear_country: drop the country and its cells.
	s.mcpServer.AddTool(
		mcplib.NewTool("yoho_clear_country",
			mcplib.WithDescription("Clear the selected country and any selected cells."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.limited("yoho_clear_country", s.handleClearCountry),
	)

	// yoho_submit: retrieve forecasts for the current selection.
	s.mcpServer.AddTool(
		mcplib.NewTool("yoho_submit",
			mcplib.WithDescription(`Retrieve forecasts for the current selection.

Only accepted when status is ready. The new result replaces the previous one.
The response includes the first records; read yoho://results for all of them.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithBoolean("wait",
				mcplib.Description("Wait for the retrieval to finish before returning"),
				mcplib.DefaultBool(true),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum records to include in the response"),
				mcplib.Min(0),
				mcplib.Max(1000),
				mcplib.DefaultNumber(defaultRecordLimit),
			),
		),
		s.limited("yoho_submit", s.handleSubmit),
	)

	// yoho_retry: re-issue the operation that failed.
	s.mcpServer.AddTool(
		mcplib.NewTool("yoho_retry",
			mcplib.WithDescription("Re-issue the failed operation (option load, cell load or retrieval). Only accepted when status is failed."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithBoolean("wait",
				mcplib.Description("Wait for the retried operation to finish before returning"),
				mcplib.DefaultBool(true),
			),
		),
		s.limited("yoho_retry", s.handleRetry),
	)

	if s.exporter != nil {
		// yoho_export: persist the last result.
		s.mcpServer.AddTool(
			mcplib.NewTool("yoho_export",
				mcplib.WithDescription("Persist the last retrieval result to the configured export targets and return where it was written."),
				mcplib.WithDestructiveHintAnnotation(false),
				mcplib.WithIdempotentHintAnnotation(false),
				mcplib.WithOpenWorldHintAnnotation(true),
			),
			s.limited("yoho_export", s.handleExport),
		)
	}
}

func (s *Server) handleState(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(compactState(s.engine.Snapshot())), nil
}

func (s *Server) handleSelect(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	field, err := model.ParseField(request.GetString("field", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid field: %v", err)), nil
	}
	values := request.GetStringSlice("values", nil)

	if err := s.engine.SetSelection(field, values...); err != nil {
		return errorResult(s.rejection(err)), nil
	}

	snap := s.settle(ctx, request.GetBool("wait", true))
	return jsonResult(compactState(snap)), nil
}

func (s *Server) handleClearCountry(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.engine.ClearCountry(); err != nil {
		return errorResult(s.rejection(err)), nil
	}
	return jsonResult(compactState(s.engine.Snapshot())), nil
}

func (s *Server) handleSubmit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.engine.Submit(); err != nil {
		return errorResult(s.rejection(err)), nil
	}

	snap := s.settle(ctx, request.GetBool("wait", true))
	resp := compactState(snap)
	if snap.Status == selection.StatusReady && snap.Result != nil {
		resp["records"] = compactRecords(snap.Result.Records, request.GetInt("limit", defaultRecordLimit))
	}
	if snap.Status == selection.StatusFailed {
		return failureResult(resp), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleRetry(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.engine.Retry(); err != nil {
		return errorResult(s.rejection(err)), nil
	}
	snap := s.settle(ctx, request.GetBool("wait", true))
	if snap.Status == selection.StatusFailed {
		return failureResult(compactState(snap)), nil
	}
	return jsonResult(compactState(snap)), nil
}

func (s *Server) handleExport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	snap := s.engine.Snapshot()
	if snap.Result == nil {
		return errorResult("no result to export; call yoho_submit first"), nil
	}

	receipt, err := s.exporter.Export(ctx, *snap.Result)
	if err != nil {
		s.logger.Warn("mcp: export failed", "result_id", snap.Result.ID, "error", err)
		if receipt.Location == "" {
			return errorResult(fmt.Sprintf("export failed: %v", err)), nil
		}
		// Partial success: some targets wrote the result.
		return failureResult(map[string]any{
			"export_id": receipt.ExportID,
			"records":   receipt.Records,
			"location":  receipt.Location,
			"error":     err.Error(),
		}), nil
	}
	return jsonResult(receipt), nil
}

// failureResult is a JSON body flagged as a tool error.
func failureResult(v any) *mcplib.CallToolResult {
	r := jsonResult(v)
	r.IsError = true
	return r
}

// rejection phrases an intent error for an agent, pointing at the tool
// that unblocks it where there is one.
func (s *Server) rejection(err error) string {
	msg := err.Error()
	if !model.IsValidation(err) {
		return msg
	}
	switch s.engine.Snapshot().Status {
	case selection.StatusFailed:
		return msg + "; call yoho_retry or change a selection"
	case selection.StatusOptionsLoading, selection.StatusCellsLoading:
		return msg + "; option lists are still loading, check yoho_state"
	case selection.StatusFetching:
		return msg + "; a retrieval is in flight, check yoho_state"
	default:
		return msg
	}
}
