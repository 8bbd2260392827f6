// Package migrations embeds the SQL schema files applied by internal/db at
// startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
