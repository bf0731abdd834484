// Package database provides SQLite connectivity for the HID climate bridge.
//
// It stores the persisted config entries and the device registry. Schema
// changes are applied with additive-only migrations embedded from the
// top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use parameterised statements.
package database
