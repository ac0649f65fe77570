package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := t.TempDir() + "/agentbridge-test.db"
	database, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return database, path
}

func assertTableExists(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	var count int
	err := conn.QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master error: %v", err)
	}
	if count != 1 {
		t.Fatalf("table %q not found", table)
	}
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	database, path := openTestDB(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected DB file at %q: %v", path, err)
	}
	assertTableExists(t, database.SQL(), "_meta")
	assertTableExists(t, database.SQL(), "completions")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database, _ := openTestDB(t)

	if err := RunMigrations(context.Background(), database.SQL()); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	var version string
	if err := database.SQL().QueryRow(`SELECT value FROM _meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version error = %v", err)
	}
	if version != "1" {
		t.Fatalf("schema version = %s, want 1", version)
	}
}

func TestCompletionRepoMarkPublishedIsIdempotent(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewCompletionRepo(database.SQL())
	ctx := context.Background()

	agentID := "agent-1"
	c := &Completion{TaskID: "T1", SessionID: &agentID, ExitCode: 0, Status: "completed"}
	first, err := repo.MarkPublished(ctx, c)
	if err != nil {
		t.Fatalf("MarkPublished() error = %v", err)
	}
	if !first {
		t.Fatal("first MarkPublished should report true")
	}

	second, err := repo.MarkPublished(ctx, &Completion{TaskID: "T1", SessionID: &agentID, ExitCode: 0, Status: "completed"})
	if err != nil {
		t.Fatalf("second MarkPublished() error = %v", err)
	}
	if second {
		t.Fatal("second MarkPublished for the same task_id should report false")
	}

	got, err := repo.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.SessionID == nil || *got.SessionID != "agent-1" || got.Status != "completed" {
		t.Fatalf("Get() = %#v", got)
	}
}

func TestCompletionRepoPersistsNilSessionIDAsNull(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewCompletionRepo(database.SQL())
	ctx := context.Background()

	if _, err := repo.MarkPublished(ctx, &Completion{TaskID: "T7", SessionID: nil, ExitCode: 2, Status: "failed"}); err != nil {
		t.Fatalf("MarkPublished() error = %v", err)
	}

	got, err := repo.Get(ctx, "T7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.SessionID != nil {
		t.Fatalf("Get() = %#v, want nil SessionID", got)
	}
}

func TestCompletionRepoGetMissingReturnsNil(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewCompletionRepo(database.SQL())

	got, err := repo.Get(context.Background(), "no-such-task")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %#v, want nil", got)
	}
}
