package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/yoho/internal/model"
)

const (
	stateURI          = "yoho://state"
	resultsURI        = "yoho://results"
	optionsURIPrefix  = "yoho://options/"
	optionsURIPattern = optionsURIPrefix + "{field}"
)

func (s *Server) registerResources() {
	// yoho://state: the engine snapshot with option counts and a result summary.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			stateURI,
			"Query State",
			mcplib.WithResourceDescription("Current selection, loaded option lists, failure and result summary"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStateResource,
	)

	// yoho://results: the last successful retrieval, every record.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			resultsURI,
			"Forecast Results",
			mcplib.WithResourceDescription("Records of the last successful forecast retrieval"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleResultsResource,
	)

	// yoho://options/{field}: the option list for one field.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			optionsURIPattern,
			"Field Options",
			mcplib.WithTemplateDescription("Selectable values for run, loa, violence_type, months, country, cells or metrics"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleOptionsResource,
	)
}

func (s *Server) handleStateResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonContents(stateURI, compactState(s.engine.Snapshot()))
}

func (s *Server) handleResultsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	snap := s.engine.Snapshot()
	if snap.Result == nil {
		return jsonContents(resultsURI, map[string]any{"result": nil})
	}
	return jsonContents(resultsURI, snap.Result)
}

func (s *Server) handleOptionsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	field, err := parseOptionsURI(uri)
	if err != nil {
		return nil, err
	}

	snap := s.engine.Snapshot()
	set, ok := snap.OptionSet(field)
	if !ok {
		return jsonContents(uri, map[string]any{
			"field":  field,
			"loaded": false,
			"status": snap.Status,
		})
	}
	return jsonContents(uri, map[string]any{
		"field":   field,
		"loaded":  true,
		"scope":   set.Scope,
		"country": set.Country,
		"options": set.Options,
	})
}

// parseOptionsURI extracts the field from yoho://options/{field}.
func parseOptionsURI(uri string) (model.Field, error) {
	name, ok := strings.CutPrefix(uri, optionsURIPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mcp: invalid options URI: %s", uri)
	}
	field, err := model.ParseField(name)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid options URI: %s: %w", uri, err)
	}
	return field, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
