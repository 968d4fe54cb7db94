// Package migrations embeds the SQL schema migrations for the timeline
// database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
