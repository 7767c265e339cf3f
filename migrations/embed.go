// Package migrations embeds the SQL schema applied by internal/migrate.
//
// Statements are kept to the subset shared by Postgres and SQLite so the same
// files run on the remote store and on local replicas.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
