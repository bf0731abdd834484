// Package migrations embeds the bridge's SQL migrations into the binary.
//
// Importing it for side effects registers the files with the database package:
//
//	import _ "github.com/nerrad567/hid-climate-bridge/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
