package yoho

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	baseURL    string
	pathPrefix string
	scope      Scope
	logger     *slog.Logger
	version    string
	httpClient *http.Client
	resolver   Resolver
	fetcher    Fetcher
	exporter   Exporter
}

// WithBaseURL overrides the forecast API root from config (YOHO_BASE_URL env var).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithPathPrefix overrides the API mount prefix from config (YOHO_PATH_PREFIX env var).
func WithPathPrefix(prefix string) Option {
	return func(o *resolvedOptions) { o.pathPrefix = prefix }
}

// WithScope sets the initial run, loa and violence type, overriding the
// YOHO_DEFAULT_* variables and the scope catalogue default.
func WithScope(scope Scope) Option {
	return func(o *resolvedOptions) { o.scope = scope }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported to MCP clients, in the
// User-Agent header and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithHTTPClient replaces the HTTP client used for backend requests.
// YOHO_HTTP_TIMEOUT is ignored when set; configure the client's own timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithResolver replaces the HTTP option resolver.
func WithResolver(r Resolver) Option {
	return func(o *resolvedOptions) { o.resolver = r }
}

// WithFetcher replaces the HTTP forecast fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *resolvedOptions) { o.fetcher = f }
}

// WithExporter replaces the export targets built from config. The App
// closes the exporter on Close.
func WithExporter(e Exporter) Option {
	return func(o *resolvedOptions) { o.exporter = e }
}
