package migrate

import (
	"context"
	"testing"

	"missionline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	v, err := Version(context.Background(), conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != latest || v == 0 {
		t.Fatalf("expected version %d, got %d", latest, v)
	}
	var balance int64
	if err := conn.QueryRow(`SELECT balance FROM wallet WHERE id=1`).Scan(&balance); err != nil {
		t.Fatalf("wallet row: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected empty wallet, got %d", balance)
	}
}

func TestSingleActiveIndex(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	insert := `INSERT INTO missions(id,label,title,duration_minutes,status,created_at,source) VALUES (?,?,?,?,?,?,?)`
	if _, err := conn.Exec(insert, "m1", "focus", "a", 25, "active", "2026-01-01T00:00:00.000000Z", "auto"); err != nil {
		t.Fatalf("first active: %v", err)
	}
	if _, err := conn.Exec(insert, "m2", "focus", "b", 25, "active", "2026-01-01T00:00:00.000000Z", "auto"); err == nil {
		t.Fatalf("expected second active mission to be rejected")
	}
}
