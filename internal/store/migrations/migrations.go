// Package migrations embeds the SQL schema for the daemon's queue database.
package migrations

import "embed"

// FS holds the golang-migrate up/down files.
//
//go:embed *.sql
var FS embed.FS
