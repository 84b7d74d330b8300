// Package mcp implements the Model Context Protocol server for yoho.
//
// The MCP server is a presentation adapter over the selection engine: tools
// translate agent requests into engine intents and resources expose engine
// snapshots. It adds no query semantics of its own.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/ratelimit"
	"github.com/ashita-ai/yoho/internal/selection"
	"github.com/ashita-ai/yoho/internal/storage"
)

// waitTimeout bounds how long a tool call blocks for the engine to settle.
// A call that times out returns the in-flight state rather than an error.
const waitTimeout = 2 * time.Minute

// Engine is the part of the selection engine the adapter drives.
type Engine interface {
	Snapshot() selection.Snapshot
	Wait(ctx context.Context) (selection.Snapshot, error)
	SetSelection(field model.Field, values ...string) error
	ClearCountry() error
	Submit() error
	Retry() error
}

// Server wraps the MCP server with the selection engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Engine
	exporter  storage.Exporter
	limiter   ratelimit.Limiter
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and
// prompts. exporter may be nil, in which case yoho_export is not offered.
// limiter may be nil to disable rate limiting.
func New(engine Engine, exporter storage.Exporter, limiter ratelimit.Limiter, logger *slog.Logger, version string) *Server {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	s := &Server{
		engine:   engine,
		exporter: exporter,
		limiter:  limiter,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"yoho",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves a single client over in/out until ctx is cancelled or
// the input is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: serve stdio: %w", err)
	}
	return nil
}

const serverInstructions = `yoho queries a gridded conflict forecast API.

Selections cascade: run, loa and violence_type pick the dataset; months,
country and metrics are chosen from option lists resolved for that dataset;
cells (PRIO-GRID ids) are chosen from a list resolved for the selected country.
Changing a higher field clears everything below it.

Typical flow: yoho_state to see what is loaded, yoho_select for each filter,
yoho_submit to retrieve forecasts, yoho_retry after a failure.`

// toolHandler is the signature mcp-go expects for tool handlers.
type toolHandler func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error)

// limited charges every call against the rate limiter before running h.
func (s *Server) limited(tool string, h toolHandler) toolHandler {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		key := ratelimit.ToolKey(sessionID(ctx), tool)
		if !ratelimit.Check(ctx, s.limiter, key, s.logger) {
			s.logger.Warn("mcp: rate limited", "tool", tool, "key", key)
			return errorResult(fmt.Sprintf("rate limit exceeded for %s; slow down and try again", tool)), nil
		}
		return h(ctx, request)
	}
}

// sessionID returns the MCP session the call belongs to, or "" for calls
// made outside a session.
func sessionID(ctx context.Context) string {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return session.SessionID()
}

// settle waits for in-flight work when wait is set. A wait that runs out
// of time returns the latest snapshot; the caller reports its status.
func (s *Server) settle(ctx context.Context, wait bool) selection.Snapshot {
	if !wait {
		return s.engine.Snapshot()
	}
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	snap, err := s.engine.Wait(ctx)
	if err != nil {
		s.logger.Debug("mcp: wait ended before engine settled", "status", snap.Status, "error", err)
	}
	return snap
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
