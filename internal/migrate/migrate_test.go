package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var rows int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	ms, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rows != len(ms) {
		t.Fatalf("%d recorded migrations, want %d", rows, len(ms))
	}

	// the schema exists exactly once
	if _, err := conn.Exec(`SELECT id FROM users LIMIT 1`); err != nil {
		t.Fatalf("users table missing: %v", err)
	}
}
