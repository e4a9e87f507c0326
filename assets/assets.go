// Package assets embeds files shipped with the journal service binary.
package assets

import "embed"

// Migrations holds the Postgres schema migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS
