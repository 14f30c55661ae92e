package migrate

import (
	"testing"

	"orchard/internal/db"
)

func TestMigrate(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("schema version = %d", version)
	}

	// Re-running against an up-to-date database is a no-op.
	if err := Migrate(conn); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	var after int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&after); err != nil {
		t.Fatal(err)
	}
	if after != version {
		t.Fatalf("version moved from %d to %d on a no-op run", version, after)
	}
}

func TestLoadOrdersAndValidates(t *testing.T) {
	all, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(all); i++ {
		if all[i].version <= all[i-1].version {
			t.Fatalf("migrations out of order: %s after %s", all[i].name, all[i-1].name)
		}
	}
}
