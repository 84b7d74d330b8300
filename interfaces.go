package yoho

import (
	"github.com/ashita-ai/yoho/internal/service/forecasts"
	"github.com/ashita-ai/yoho/internal/service/options"
	"github.com/ashita-ai/yoho/internal/storage"
)

// Resolver loads the dependent option lists for a scope and the grid cells
// of a country. When provided via WithResolver, replaces the HTTP resolver.
// Implementations must tag every returned OptionSet with the requested
// scope (and country, for cells).
type Resolver = options.Resolver

// Fetcher retrieves forecast records for a descriptor. When provided via
// WithFetcher, replaces the HTTP fetcher. A failed call must return no
// records.
type Fetcher = forecasts.Fetcher

// Exporter persists retrieval results. When provided via WithExporter,
// replaces the SQLite, Postgres and object-storage targets from config.
type Exporter = storage.Exporter
