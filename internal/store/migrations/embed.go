// Package migrations holds the SQL schema of the local cache.
package migrations

import "embed"

// FS contains the numbered up/down migrations.
//
//go:embed *.sql
var FS embed.FS
