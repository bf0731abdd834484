package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// testMigrations is a two-step schema used to exercise the runner.
var testMigrations = fstest.MapFS{
	"sql/20260101_000000_create_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
	"sql/20260101_000000_create_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	"sql/20260102_000000_create_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
	"sql/20260103_000000_notes.txt":               {Data: []byte("not a migration")},
}

// useMigrations swaps the package migration source for the test duration.
func useMigrations(t *testing.T, fsys fstest.MapFS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	if fsys == nil {
		MigrationsFS = nil
	} else {
		MigrationsFS = fsys
	}
	MigrationsDir = dir
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations, "sql")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("expected both tables to be created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("first applied = %q, want oldest first", applied[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations, "sql")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The latest migration has no down file.
	if err := db.MigrateDown(ctx); err == nil {
		t.Fatal("MigrateDown() expected error for migration without down SQL")
	}
}

func TestMigrateDown_RollsBackLatest(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_create_widgets.up.sql":   testMigrations["sql/20260101_000000_create_widgets.up.sql"],
		"20260101_000000_create_widgets.down.sql": testMigrations["sql/20260101_000000_create_widgets.down.sql"],
	}
	useMigrations(t, fsys, ".")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "widgets") {
		t.Error("table widgets should have been dropped")
	}
	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}
}

func TestMigrate_FailureIsRolledBack(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id TEXT);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE broken (id TEXT); NOT VALID SQL;")},
	}
	useMigrations(t, fsys, ".")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	if !tableExists(t, db, "ok_table") {
		t.Error("earlier migration should stay committed")
	}
	if tableExists(t, db, "broken") {
		t.Error("failed migration should be rolled back")
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil, ".")
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20261001_090000_config_entries.up.sql", "20261001_090000", true, true},
		{"20261001_090000_config_entries.down.sql", "20261001_090000", false, true},
		{"readme.txt", "", false, false},
		{"20261001_090000_config_entries.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got %q %v, want %q %v", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261001_090000_config_entries.up.sql", "config_entries"},
		{"20261001_090100_devices.down.sql", "devices"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
