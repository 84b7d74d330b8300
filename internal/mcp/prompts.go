package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// forecast-query: walks the agent through a query from scope to results.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("forecast-query",
			mcplib.WithPromptDescription("Step-by-step guide for retrieving forecasts with the yoho tools"),
			mcplib.WithArgument("question",
				mcplib.ArgumentDescription("What you want to find out, e.g. 'expected fatalities in Mali next quarter'"),
			),
		),
		s.handleForecastQueryPrompt,
	)
}

func (s *Server) handleForecastQueryPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	question := strings.TrimSpace(request.Params.Arguments["question"])

	var b strings.Builder
	if question != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", question)
	}
	b.WriteString(`Retrieve the forecasts with the yoho tools:

1. CALL yoho_state. Note the dataset (run, loa, violence_type) and which
   option lists are loaded.

2. If a different dataset is needed, CALL yoho_select for run, loa or
   violence_type. This reloads the option lists and clears the lower filters,
   so set the dataset first.

3. READ yoho://options/months, yoho://options/country and
   yoho://options/metrics, then CALL yoho_select for each filter you need.
   Leave a filter empty to include everything.

4. To narrow to grid cells, select a country first, then read
   yoho://options/cells and select from it. Cells cannot be chosen without a
   country.

5. CALL yoho_submit. If status is failed, read the failure, fix the
   selection or CALL yoho_retry.

6. READ yoho://results for every record. Metric values may be null.`)

	return &mcplib.GetPromptResult{
		Description: "Retrieve forecasts with yoho",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: b.String()},
			},
		},
	}, nil
}
