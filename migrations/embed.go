// Package migrations embeds the PostgreSQL schema for result exports.
package migrations

import "embed"

// FS holds the forward-only migration files, applied in name order.
//
//go:embed *.sql
var FS embed.FS
