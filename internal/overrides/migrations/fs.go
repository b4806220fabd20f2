// Package migrations embeds the local-state schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
