// Package migrations embeds the SQL migration files.
package migrations

import "embed"

// FS contains the PostgreSQL migrations, named NNNN_name_{up,down}.sql.
//
//go:embed *.sql
var FS embed.FS
