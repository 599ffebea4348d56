// Package migrations embeds the SQL schema so binaries can migrate on
// startup without a copy of this directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
