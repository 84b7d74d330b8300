// Package ratelimit throttles MCP tool calls.
//
// Each tool call is charged against a key built from the session and the
// tool name, so a client hammering yoho_submit cannot starve yoho_state.
package ratelimit

import (
	"context"
	"log/slog"
)

// Limiter decides whether a call identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the call should proceed. An error signals a
	// limiter malfunction; callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every call. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// ToolKey builds the limiter key for one tool within one client session.
// An empty session means the single stdio client.
func ToolKey(session, tool string) string {
	if session == "" {
		session = "stdio"
	}
	return "session:" + session + ":tool:" + tool
}

// Check consults l for key. Limiter errors are logged and the call is
// allowed.
func Check(ctx context.Context, l Limiter, key string, logger *slog.Logger) bool {
	if l == nil {
		return true
	}
	ok, err := l.Allow(ctx, key)
	if err != nil {
		logger.Warn("ratelimit: limiter error, allowing call", "key", key, "error", err)
		return true
	}
	return ok
}
