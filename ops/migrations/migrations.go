// Package migrations embeds the SQL schema and seed files.
package migrations

import "embed"

//go:embed sql seeds
var Files embed.FS
