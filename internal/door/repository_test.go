package door

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the door tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Create tables matching the schema
	schema := `
		CREATE TABLE doors (
			id TEXT PRIMARY KEY,
			site_id TEXT NOT NULL,
			cabinet_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			shared INTEGER NOT NULL DEFAULT 0,
			occupied_at TEXT,
			active_recipients TEXT NOT NULL DEFAULT '[]',
			lock_state TEXT NOT NULL DEFAULT 'unknown',
			sensor_state TEXT NOT NULL DEFAULT 'unknown',
			last_event_at TEXT,
			hardware_flagged INTEGER NOT NULL DEFAULT 0,
			endpoint_mode TEXT NOT NULL DEFAULT 'direct',
			endpoint_url TEXT,
			controller_id TEXT,
			pulse_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			UNIQUE (cabinet_id, number)
		) STRICT;
		CREATE INDEX idx_doors_cabinet_id ON doors(cabinet_id);
		CREATE INDEX idx_doors_status ON doors(status);

		CREATE TABLE credentials (
			code TEXT PRIMARY KEY,
			door_id TEXT NOT NULL REFERENCES doors(id) ON DELETE CASCADE,
			block TEXT NOT NULL DEFAULT '',
			apartment TEXT NOT NULL DEFAULT '',
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT
		) STRICT;
		CREATE INDEX idx_credentials_door_id ON credentials(door_id);

		CREATE TABLE movements (
			id TEXT PRIMARY KEY,
			door_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resulting_status TEXT NOT NULL,
			recipients TEXT NOT NULL DEFAULT '[]',
			requested_by TEXT,
			reason TEXT,
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_movements_door_id ON movements(door_id);
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

// testDoor creates a door for testing.
func testDoor(id string, number int) *Door {
	return &Door{
		ID:          id,
		SiteID:      "site-001",
		CabinetID:   "cab-001",
		Number:      number,
		Status:      StatusAvailable,
		LockState:   LockStateLocked,
		SensorState: SensorStateClosed,
		Endpoint: Endpoint{
			Mode: ModeDirect,
			URL:  "http://10.0.40.21",
		},
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates door successfully", func(t *testing.T) {
		d := testDoor("door-001", 1)

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "door-001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Number != 1 {
			t.Errorf("Number = %d, want 1", got.Number)
		}
		if got.Status != StatusAvailable {
			t.Errorf("Status = %q, want %q", got.Status, StatusAvailable)
		}
		if got.Endpoint.Mode != ModeDirect {
			t.Errorf("Endpoint.Mode = %q, want %q", got.Endpoint.Mode, ModeDirect)
		}
	})

	t.Run("returns error for duplicate ID", func(t *testing.T) {
		if err := repo.Create(ctx, testDoor("door-dup", 10)); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}

		err := repo.Create(ctx, testDoor("door-dup", 11))
		if !errors.Is(err, ErrDoorExists) {
			t.Errorf("Create() error = %v, want ErrDoorExists", err)
		}
	})

	t.Run("returns error for duplicate cabinet position", func(t *testing.T) {
		if err := repo.Create(ctx, testDoor("door-pos-a", 20)); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}

		err := repo.Create(ctx, testDoor("door-pos-b", 20))
		if !errors.Is(err, ErrDoorExists) {
			t.Errorf("Create() error = %v, want ErrDoorExists", err)
		}
	})

	t.Run("stores all fields correctly", func(t *testing.T) {
		occupied := time.Now().UTC().Truncate(time.Second)
		observed := occupied.Add(-time.Minute)

		d := &Door{
			ID:          "door-full",
			SiteID:      "site-002",
			CabinetID:   "cab-002",
			Number:      3,
			Status:      StatusOccupied,
			Shared:      true,
			OccupiedAt:  &occupied,
			LockState:   LockStateUnlocked,
			SensorState: SensorStateOpen,
			LastEventAt: &observed,
			ActiveRecipients: []Recipient{
				{Block: "B", Apartment: "14", Quantity: 2},
			},
			HardwareFlagged: true,
			Endpoint: Endpoint{
				Mode:         ModeQueued,
				ControllerID: "ctrl-07",
			},
			PulseMs: 2500,
		}

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "door-full")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}

		if !got.Shared {
			t.Error("Shared = false, want true")
		}
		if got.OccupiedAt == nil || !got.OccupiedAt.Equal(occupied) {
			t.Errorf("OccupiedAt = %v, want %v", got.OccupiedAt, occupied)
		}
		if got.LastEventAt == nil || !got.LastEventAt.Equal(observed) {
			t.Errorf("LastEventAt = %v, want %v", got.LastEventAt, observed)
		}
		if len(got.ActiveRecipients) != 1 || got.ActiveRecipients[0].Quantity != 2 {
			t.Errorf("ActiveRecipients = %v, want one recipient with quantity 2", got.ActiveRecipients)
		}
		if !got.HardwareFlagged {
			t.Error("HardwareFlagged = false, want true")
		}
		if got.Endpoint.Mode != ModeQueued || got.Endpoint.ControllerID != "ctrl-07" {
			t.Errorf("Endpoint = %+v, want queued via ctrl-07", got.Endpoint)
		}
		if got.PulseMs != 2500 {
			t.Errorf("PulseMs = %d, want 2500", got.PulseMs)
		}
	})
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrDoorNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDoorNotFound", err)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("updates existing door", func(t *testing.T) {
		d := testDoor("door-upd", 5)
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		now := time.Now().UTC().Truncate(time.Second)
		d.Status = StatusOccupied
		d.OccupiedAt = &now
		d.ActiveRecipients = []Recipient{{Block: "A", Apartment: "3", Quantity: 1}}

		if err := repo.Update(ctx, d); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "door-upd")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != StatusOccupied {
			t.Errorf("Status = %q, want %q", got.Status, StatusOccupied)
		}
		if got.OccupiedAt == nil {
			t.Error("OccupiedAt = nil, want non-nil")
		}
		if len(got.ActiveRecipients) != 1 {
			t.Errorf("ActiveRecipients count = %d, want 1", len(got.ActiveRecipients))
		}
	})

	t.Run("returns error for missing door", func(t *testing.T) {
		err := repo.Update(ctx, testDoor("door-missing", 99))
		if !errors.Is(err, ErrDoorNotFound) {
			t.Errorf("Update() error = %v, want ErrDoorNotFound", err)
		}
	})
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDoor("door-del", 7)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, "door-del"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.GetByID(ctx, "door-del"); !errors.Is(err, ErrDoorNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDoorNotFound", err)
	}

	if err := repo.Delete(ctx, "door-del"); !errors.Is(err, ErrDoorNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDoorNotFound", err)
	}
}

func TestSQLiteRepository_ListByCabinet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	a := testDoor("door-a", 2)
	b := testDoor("door-b", 1)
	c := testDoor("door-c", 1)
	c.CabinetID = "cab-other"

	for _, d := range []*Door{a, b, c} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.ID, err)
		}
	}

	got, err := repo.ListByCabinet(ctx, "cab-001")
	if err != nil {
		t.Fatalf("ListByCabinet() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByCabinet() count = %d, want 2", len(got))
	}
	// Ordered by door number
	if got[0].ID != "door-b" || got[1].ID != "door-a" {
		t.Errorf("ListByCabinet() order = [%s, %s], want [door-b, door-a]", got[0].ID, got[1].ID)
	}
}

func TestSQLiteRepository_UpdateHardwareState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDoor("door-hw", 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	observed := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateHardwareState(ctx, "door-hw", LockStateUnlocked, SensorStateOpen, observed); err != nil {
		t.Fatalf("UpdateHardwareState() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "door-hw")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LockState != LockStateUnlocked {
		t.Errorf("LockState = %q, want %q", got.LockState, LockStateUnlocked)
	}
	if got.SensorState != SensorStateOpen {
		t.Errorf("SensorState = %q, want %q", got.SensorState, SensorStateOpen)
	}
	if got.LastEventAt == nil || !got.LastEventAt.Equal(observed) {
		t.Errorf("LastEventAt = %v, want %v", got.LastEventAt, observed)
	}
}

func TestSQLiteRepository_ApplyOccupation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDoor("door-occ", 1)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	d.Status = StatusOccupied
	d.OccupiedAt = &now
	d.ActiveRecipients = []Recipient{
		{Block: "A", Apartment: "1", Quantity: 1},
		{Block: "A", Apartment: "2", Quantity: 3},
	}

	creds := []Credential{
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "1"}, 72*time.Hour),
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "2"}, 72*time.Hour),
	}
	mv := &Movement{
		ID:              "mov-001",
		DoorID:          d.ID,
		Action:          ActionOccupy,
		ResultingStatus: StatusOccupied,
		Recipients:      d.ActiveRecipients,
		RequestedBy:     "courier-9",
	}

	if err := repo.ApplyOccupation(ctx, d, creds, mv); err != nil {
		t.Fatalf("ApplyOccupation() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "door-occ")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusOccupied {
		t.Errorf("Status = %q, want %q", got.Status, StatusOccupied)
	}

	outstanding, err := repo.CountOutstanding(ctx, "door-occ")
	if err != nil {
		t.Fatalf("CountOutstanding() error = %v", err)
	}
	if outstanding != 2 {
		t.Errorf("CountOutstanding() = %d, want 2", outstanding)
	}

	movements, err := repo.ListMovements(ctx, "door-occ", 0)
	if err != nil {
		t.Fatalf("ListMovements() error = %v", err)
	}
	if len(movements) != 1 || movements[0].Action != ActionOccupy {
		t.Fatalf("ListMovements() = %v, want one OCCUPY record", movements)
	}
	if movements[0].RequestedBy != "courier-9" {
		t.Errorf("RequestedBy = %q, want %q", movements[0].RequestedBy, "courier-9")
	}
}

func TestSQLiteRepository_CountOutstanding_ExcludesExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDoor("door-exp", 1)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	creds := []Credential{
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "1"}, 72*time.Hour),
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "2"}, -time.Hour),
	}
	mv := &Movement{ID: "mov-exp", DoorID: d.ID, Action: ActionOccupy, ResultingStatus: StatusOccupied}
	if err := repo.ApplyOccupation(ctx, d, creds, mv); err != nil {
		t.Fatalf("ApplyOccupation() error = %v", err)
	}

	outstanding, err := repo.CountOutstanding(ctx, d.ID)
	if err != nil {
		t.Fatalf("CountOutstanding() error = %v", err)
	}
	if outstanding != 1 {
		t.Errorf("CountOutstanding() = %d, want 1 (expired code excluded)", outstanding)
	}
}

func TestSQLiteRepository_ApplyValidation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDoor("door-val", 1)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cred := NewCredential(d.ID, Recipient{Block: "C", Apartment: "12"}, 72*time.Hour)
	mv := &Movement{ID: "mov-val", DoorID: d.ID, Action: ActionOccupy, ResultingStatus: StatusOccupied}
	if err := repo.ApplyOccupation(ctx, d, []Credential{cred}, mv); err != nil {
		t.Fatalf("ApplyOccupation() error = %v", err)
	}

	t.Run("consumes credential once", func(t *testing.T) {
		consumedAt := time.Now().UTC().Truncate(time.Second)
		d.Status = StatusPendingRetrieval

		if err := repo.ApplyValidation(ctx, d, cred.Code, consumedAt); err != nil {
			t.Fatalf("ApplyValidation() error = %v", err)
		}

		got, err := repo.GetCredential(ctx, cred.Code)
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if !got.Consumed() {
			t.Error("Consumed() = false, want true")
		}

		outstanding, err := repo.CountOutstanding(ctx, d.ID)
		if err != nil {
			t.Fatalf("CountOutstanding() error = %v", err)
		}
		if outstanding != 0 {
			t.Errorf("CountOutstanding() = %d, want 0", outstanding)
		}
	})

	t.Run("rejects second consumption", func(t *testing.T) {
		err := repo.ApplyValidation(ctx, d, cred.Code, time.Now().UTC())
		if !errors.Is(err, ErrCredentialAlreadyUsed) {
			t.Errorf("ApplyValidation() error = %v, want ErrCredentialAlreadyUsed", err)
		}
	})

	t.Run("door untouched when consumption fails", func(t *testing.T) {
		before, err := repo.GetByID(ctx, d.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}

		d.Status = StatusForceClosed
		if err := repo.ApplyValidation(ctx, d, cred.Code, time.Now().UTC()); err == nil {
			t.Fatal("ApplyValidation() error = nil, want error")
		}
		d.Status = StatusPendingRetrieval

		after, err := repo.GetByID(ctx, d.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if after.Status != before.Status {
			t.Errorf("Status changed to %q after failed validation, want %q", after.Status, before.Status)
		}
	})
}

func TestSQLiteRepository_ApplyCancel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDoor("door-cancel", 1)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	creds := []Credential{
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "1"}, 72*time.Hour),
		NewCredential(d.ID, Recipient{Block: "A", Apartment: "2"}, 72*time.Hour),
	}
	occMv := &Movement{ID: "mov-c1", DoorID: d.ID, Action: ActionOccupy, ResultingStatus: StatusOccupied}
	if err := repo.ApplyOccupation(ctx, d, creds, occMv); err != nil {
		t.Fatalf("ApplyOccupation() error = %v", err)
	}

	d.Status = StatusForceClosed
	cancelMv := &Movement{
		ID:              "mov-c2",
		DoorID:          d.ID,
		Action:          ActionCancel,
		ResultingStatus: StatusForceClosed,
		RequestedBy:     "admin",
		Reason:          "damaged parcel",
	}

	if err := repo.ApplyCancel(ctx, d, cancelMv, time.Now().UTC()); err != nil {
		t.Fatalf("ApplyCancel() error = %v", err)
	}

	outstanding, err := repo.CountOutstanding(ctx, d.ID)
	if err != nil {
		t.Fatalf("CountOutstanding() error = %v", err)
	}
	if outstanding != 0 {
		t.Errorf("CountOutstanding() = %d, want 0 after cancel", outstanding)
	}

	// Invalidated credentials can never validate again
	if err := repo.ApplyValidation(ctx, d, creds[0].Code, time.Now().UTC()); !errors.Is(err, ErrCredentialAlreadyUsed) {
		t.Errorf("ApplyValidation() after cancel error = %v, want ErrCredentialAlreadyUsed", err)
	}

	movements, err := repo.ListMovements(ctx, d.ID, 1)
	if err != nil {
		t.Fatalf("ListMovements() error = %v", err)
	}
	if len(movements) != 1 || movements[0].Action != ActionCancel {
		t.Fatalf("ListMovements(limit=1) = %v, want newest CANCEL record", movements)
	}
	if movements[0].Reason != "damaged parcel" {
		t.Errorf("Reason = %q, want %q", movements[0].Reason, "damaged parcel")
	}
}

func TestSQLiteRepository_GetCredential_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetCredential(context.Background(), "no-such-code")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential() error = %v, want ErrCredentialNotFound", err)
	}
}

func TestSQLiteRepository_DeleteExpiredCredentials(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDoor("door-exp", 1)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expired := NewCredential(d.ID, Recipient{Block: "A", Apartment: "1"}, -time.Hour)
	fresh := NewCredential(d.ID, Recipient{Block: "A", Apartment: "2"}, 72*time.Hour)
	mv := &Movement{ID: "mov-exp", DoorID: d.ID, Action: ActionOccupy, ResultingStatus: StatusOccupied}
	if err := repo.ApplyOccupation(ctx, d, []Credential{expired, fresh}, mv); err != nil {
		t.Fatalf("ApplyOccupation() error = %v", err)
	}

	deleted, err := repo.DeleteExpiredCredentials(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpiredCredentials() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteExpiredCredentials() = %d, want 1", deleted)
	}

	if _, err := repo.GetCredential(ctx, expired.Code); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential(expired) error = %v, want ErrCredentialNotFound", err)
	}
	if _, err := repo.GetCredential(ctx, fresh.Code); err != nil {
		t.Errorf("GetCredential(fresh) error = %v, want nil", err)
	}
}
