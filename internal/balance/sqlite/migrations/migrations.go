// Package migrations embeds the balance store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
