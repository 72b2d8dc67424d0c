package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func seedLog(t *testing.T, repo *SQLiteRepository, action, entityType, entityID string, at time.Time) {
	t.Helper()

	err := repo.Create(context.Background(), &AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	entry := &AuditLog{
		Action:     "occupy",
		EntityType: EntityDoor,
		EntityID:   "door-007",
		UserID:     "usr-abc",
		Source:     "api",
		Details:    map[string]any{"recipients": 2},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("Create() should generate an ID")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}

	got := result.Logs[0]
	if got.EntityType != EntityDoor || got.EntityID != "door-007" {
		t.Errorf("entity = %s/%s, want door/door-007", got.EntityType, got.EntityID)
	}
	if got.Details["recipients"] != float64(2) {
		t.Errorf("Details[recipients] = %v, want 2", got.Details["recipients"])
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedLog(t, repo, "occupy", EntityDoor, "door-001", base)
	seedLog(t, repo, "cancel", EntityDoor, "door-001", base.Add(time.Minute))
	seedLog(t, repo, "create", EntityCabinet, "cab-001", base.Add(2*time.Minute))
	seedLog(t, repo, "occupy", EntityDoor, "door-002", base.Add(3*time.Minute))

	t.Run("most recent first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 {
			t.Fatalf("Total = %d, want 4", result.Total)
		}
		if result.Logs[0].EntityID != "door-002" {
			t.Errorf("first entry = %q, want door-002", result.Logs[0].EntityID)
		}
	})

	t.Run("filter by action", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "occupy"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("filter by entity", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{EntityType: EntityDoor, EntityID: "door-001"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
		for _, l := range result.Logs {
			if l.EntityID != "door-001" {
				t.Errorf("unexpected entity %q in filtered results", l.EntityID)
			}
		}
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 {
			t.Errorf("Total = %d, want 4", result.Total)
		}
		if len(result.Logs) != 2 {
			t.Fatalf("page size = %d, want 2", len(result.Logs))
		}
		if result.Logs[0].EntityID != "door-001" {
			t.Errorf("first entry on page 2 = %q, want door-001", result.Logs[0].EntityID)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "delete"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 0 {
			t.Errorf("Total = %d, want 0", result.Total)
		}
		if result.Logs == nil {
			t.Error("Logs should be an empty slice, not nil")
		}
	})
}
