package occupancy

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
)

// fakeDispatcher records dispatches and returns a configurable outcome.
type fakeDispatcher struct {
	calls []string
	fail  bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, d *door.Door) hardware.Outcome {
	f.calls = append(f.calls, d.ID)
	if f.fail {
		return hardware.Outcome{Err: errors.New("controller unreachable")}
	}
	return hardware.Outcome{Success: true}
}

// testEnv bundles the engine with its collaborators for assertions.
type testEnv struct {
	engine     *Engine
	registry   *door.Registry
	repo       door.Repository
	queue      *hardware.Queue
	dispatcher *fakeDispatcher
}

// setupTestEngine creates an engine over an in-memory database with one
// available door, door-001.
func setupTestEngine(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE doors (
			id TEXT PRIMARY KEY,
			site_id TEXT NOT NULL,
			cabinet_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'AVAILABLE',
			shared INTEGER NOT NULL DEFAULT 0,
			occupied_at TEXT,
			active_recipients TEXT NOT NULL DEFAULT '[]',
			lock_state TEXT NOT NULL DEFAULT 'unknown',
			sensor_state TEXT NOT NULL DEFAULT 'unknown',
			last_event_at TEXT,
			hardware_flagged INTEGER NOT NULL DEFAULT 0,
			endpoint_mode TEXT NOT NULL DEFAULT 'DIRECT',
			endpoint_url TEXT,
			controller_id TEXT,
			pulse_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (cabinet_id, number)
		) STRICT;

		CREATE TABLE credentials (
			code TEXT PRIMARY KEY,
			door_id TEXT NOT NULL,
			block TEXT NOT NULL DEFAULT '',
			apartment TEXT NOT NULL DEFAULT '',
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT
		) STRICT;

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

		CREATE TABLE hardware_commands (
			id TEXT PRIMARY KEY,
			door_id TEXT NOT NULL,
			controller_id TEXT NOT NULL,
			door_number INTEGER NOT NULL,
			token TEXT NOT NULL,
			pulse_ms INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			delivered_at TEXT,
			completed_at TEXT
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	repo := door.NewSQLiteRepository(db)
	registry := door.NewRegistry(repo)

	ctx := context.Background()
	d := &door.Door{
		ID:          "door-001",
		SiteID:      "site-1",
		CabinetID:   "cab-1",
		Number:      1,
		LockState:   door.LockStateLocked,
		SensorState: door.SensorStateClosed,
		Endpoint:    door.Endpoint{Mode: door.ModeDirect, URL: "http://10.0.40.21"},
	}
	if err := registry.Create(ctx, d); err != nil {
		t.Fatalf("creating test door: %v", err)
	}
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	dispatcher := &fakeDispatcher{}
	queue := hardware.NewQueue(db)
	engine := NewEngine(registry, dispatcher, queue, 72*time.Hour)

	return &testEnv{
		engine:     engine,
		registry:   registry,
		repo:       repo,
		queue:      queue,
		dispatcher: dispatcher,
	}
}

func oneRecipient() []door.Recipient {
	return []door.Recipient{{Block: "A", Apartment: "12", Quantity: 1}}
}

// =============================================================================
// Occupy
// =============================================================================

func TestEngine_Occupy(t *testing.T) {
	ctx := context.Background()

	t.Run("occupies available door", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		if res.Door.Status != door.StatusOccupied {
			t.Errorf("Status = %q, want %q", res.Door.Status, door.StatusOccupied)
		}
		if res.Door.OccupiedAt == nil {
			t.Error("OccupiedAt = nil, want timestamp")
		}
		if len(res.Credentials) != 1 {
			t.Fatalf("Credentials count = %d, want 1", len(res.Credentials))
		}
		if res.HardwareWarning {
			t.Error("HardwareWarning = true, want false")
		}
		if len(env.dispatcher.calls) != 1 {
			t.Errorf("dispatch calls = %d, want 1", len(env.dispatcher.calls))
		}

		// Registry and persistence agree
		got, err := env.registry.Get("door-001")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != door.StatusOccupied {
			t.Errorf("cached Status = %q, want %q", got.Status, door.StatusOccupied)
		}

		movements, err := env.repo.ListMovements(ctx, "door-001", 0)
		if err != nil {
			t.Fatalf("ListMovements() error = %v", err)
		}
		if len(movements) != 1 || movements[0].Action != door.ActionOccupy {
			t.Errorf("movements = %v, want one OCCUPY", movements)
		}
	})

	t.Run("aggregates duplicate recipients into one credential", func(t *testing.T) {
		env := setupTestEngine(t)

		recipients := []door.Recipient{
			{Block: "A", Apartment: "12", Quantity: 1},
			{Block: "A", Apartment: "12", Quantity: 2},
			{Block: "B", Apartment: "3", Quantity: 1},
		}

		res, err := env.engine.Occupy(ctx, "door-001", recipients, "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		if len(res.Credentials) != 2 {
			t.Fatalf("Credentials count = %d, want 2 (one per distinct recipient)", len(res.Credentials))
		}
		if len(res.Door.ActiveRecipients) != 2 {
			t.Fatalf("ActiveRecipients count = %d, want 2", len(res.Door.ActiveRecipients))
		}
		if res.Door.ActiveRecipients[0].Quantity != 3 {
			t.Errorf("aggregated quantity = %d, want 3", res.Door.ActiveRecipients[0].Quantity)
		}
	})

	t.Run("issues one credential per recipient, not per parcel", func(t *testing.T) {
		env := setupTestEngine(t)

		// Three parcels for one household still means one pickup code;
		// quantity only tells the resident how many boxes to expect.
		res, err := env.engine.Occupy(ctx, "door-001",
			[]door.Recipient{{Block: "A", Apartment: "12", Quantity: 3}}, "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		if len(res.Credentials) != 1 {
			t.Fatalf("Credentials count = %d, want 1", len(res.Credentials))
		}
		if res.Credentials[0].Block != "A" || res.Credentials[0].Apartment != "12" {
			t.Errorf("credential recipient = %s/%s, want A/12",
				res.Credentials[0].Block, res.Credentials[0].Apartment)
		}
	})

	t.Run("rejects empty and invalid recipients", func(t *testing.T) {
		env := setupTestEngine(t)

		cases := [][]door.Recipient{
			nil,
			{},
			{{Block: "", Apartment: "1", Quantity: 1}},
			{{Block: "A", Apartment: "", Quantity: 1}},
			{{Block: "A", Apartment: "1", Quantity: 0}},
			{{Block: "A", Apartment: "1", Quantity: -2}},
		}

		for i, recipients := range cases {
			_, err := env.engine.Occupy(ctx, "door-001", recipients, "courier-9")
			if !errors.Is(err, door.ErrEmptyRecipients) {
				t.Errorf("case %d: error = %v, want ErrEmptyRecipients", i, err)
			}
		}

		// Door untouched by rejected requests
		got, _ := env.registry.Get("door-001")
		if got.Status != door.StatusAvailable {
			t.Errorf("Status = %q after rejections, want AVAILABLE", got.Status)
		}
	})

	t.Run("rejects occupied non-shared door", func(t *testing.T) {
		env := setupTestEngine(t)

		if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
			t.Fatalf("first Occupy() error = %v", err)
		}

		_, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if !errors.Is(err, door.ErrDoorUnavailable) {
			t.Errorf("second Occupy() error = %v, want ErrDoorUnavailable", err)
		}
	})

	t.Run("shared door accepts additional recipients", func(t *testing.T) {
		env := setupTestEngine(t)

		shared := &door.Door{
			ID:        "door-shared",
			SiteID:    "site-1",
			CabinetID: "cab-1",
			Number:    2,
			Shared:    true,
			Endpoint:  door.Endpoint{Mode: door.ModeDirect, URL: "http://10.0.40.22"},
		}
		if err := env.registry.Create(ctx, shared); err != nil {
			t.Fatalf("creating shared door: %v", err)
		}

		if _, err := env.engine.Occupy(ctx, "door-shared", oneRecipient(), "courier-9"); err != nil {
			t.Fatalf("first Occupy() error = %v", err)
		}

		res, err := env.engine.Occupy(ctx, "door-shared",
			[]door.Recipient{{Block: "C", Apartment: "4", Quantity: 1}}, "courier-7")
		if err != nil {
			t.Fatalf("second Occupy() error = %v", err)
		}

		if res.Door.Status != door.StatusOccupied {
			t.Errorf("Status = %q, want OCCUPIED", res.Door.Status)
		}
		if len(res.Door.ActiveRecipients) != 2 {
			t.Errorf("ActiveRecipients count = %d, want 2", len(res.Door.ActiveRecipients))
		}

		outstanding, _ := env.repo.CountOutstanding(ctx, "door-shared")
		if outstanding != 2 {
			t.Errorf("outstanding credentials = %d, want 2", outstanding)
		}
	})

	t.Run("unknown door", func(t *testing.T) {
		env := setupTestEngine(t)

		_, err := env.engine.Occupy(ctx, "door-missing", oneRecipient(), "courier-9")
		if !errors.Is(err, door.ErrDoorNotFound) {
			t.Errorf("Occupy() error = %v, want ErrDoorNotFound", err)
		}
	})

	t.Run("hardware failure warns but commits", func(t *testing.T) {
		env := setupTestEngine(t)
		env.dispatcher.fail = true

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}
		if !res.HardwareWarning {
			t.Error("HardwareWarning = false, want true")
		}
		if res.Door.Status != door.StatusOccupied {
			t.Errorf("Status = %q, want OCCUPIED despite hardware failure", res.Door.Status)
		}

		got, _ := env.registry.Get("door-001")
		if !got.HardwareFlagged {
			t.Error("HardwareFlagged = false, want true")
		}
	})
}

// =============================================================================
// Validate
// =============================================================================

func TestEngine_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes credential and moves to pending retrieval", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		val, err := env.engine.Validate(ctx, res.Credentials[0].Code)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if val.Door.Status != door.StatusPendingRetrieval {
			t.Errorf("Status = %q, want PENDING_RETRIEVAL", val.Door.Status)
		}
		if val.Recipient.Block != "A" || val.Recipient.Apartment != "12" {
			t.Errorf("Recipient = %+v, want A/12", val.Recipient)
		}
		if len(env.dispatcher.calls) != 2 {
			t.Errorf("dispatch calls = %d, want 2 (occupy + validate)", len(env.dispatcher.calls))
		}
	})

	t.Run("first validate opens retrieval while codes remain", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", []door.Recipient{
			{Block: "A", Apartment: "1", Quantity: 1},
			{Block: "A", Apartment: "2", Quantity: 1},
		}, "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		// The compartment is physically open after the first pickup, so
		// the door is PENDING_RETRIEVAL even with a code still unused.
		val, err := env.engine.Validate(ctx, res.Credentials[0].Code)
		if err != nil {
			t.Fatalf("first Validate() error = %v", err)
		}
		if val.Door.Status != door.StatusPendingRetrieval {
			t.Errorf("Status after first validation = %q, want PENDING_RETRIEVAL", val.Door.Status)
		}

		outstanding, _ := env.repo.CountOutstanding(ctx, "door-001")
		if outstanding != 1 {
			t.Errorf("outstanding after first validation = %d, want 1", outstanding)
		}

		val, err = env.engine.Validate(ctx, res.Credentials[1].Code)
		if err != nil {
			t.Fatalf("second Validate() error = %v", err)
		}
		if val.Door.Status != door.StatusPendingRetrieval {
			t.Errorf("Status after last validation = %q, want PENDING_RETRIEVAL", val.Door.Status)
		}
	})

	t.Run("error taxonomy", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		// Unknown code
		if _, err := env.engine.Validate(ctx, "no-such-code"); !errors.Is(err, door.ErrCredentialNotFound) {
			t.Errorf("unknown code error = %v, want ErrCredentialNotFound", err)
		}

		// Replay
		code := res.Credentials[0].Code
		if _, err := env.engine.Validate(ctx, code); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if _, err := env.engine.Validate(ctx, code); !errors.Is(err, door.ErrCredentialAlreadyUsed) {
			t.Errorf("replay error = %v, want ErrCredentialAlreadyUsed", err)
		}
	})

	t.Run("expired credential", func(t *testing.T) {
		env := setupTestEngine(t)
		env.engine.credTTL = -time.Hour

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		_, err = env.engine.Validate(ctx, res.Credentials[0].Code)
		if !errors.Is(err, door.ErrCredentialExpired) {
			t.Errorf("Validate() error = %v, want ErrCredentialExpired", err)
		}

		// Expired attempt consumes nothing
		cred, err := env.repo.GetCredential(ctx, res.Credentials[0].Code)
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if cred.Consumed() {
			t.Error("expired credential was consumed by a failed validate")
		}
	})

	t.Run("cancelled credential can never validate", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}
		if _, err := env.engine.Cancel(ctx, "door-001", "damaged", "admin"); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}

		_, err = env.engine.Validate(ctx, res.Credentials[0].Code)
		if !errors.Is(err, door.ErrCredentialAlreadyUsed) {
			t.Errorf("Validate() after cancel error = %v, want ErrCredentialAlreadyUsed", err)
		}
	})
}

// =============================================================================
// Cancel / Reactivate
// =============================================================================

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("force-closes occupied door", func(t *testing.T) {
		env := setupTestEngine(t)

		if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		d, err := env.engine.Cancel(ctx, "door-001", "damaged parcel", "admin")
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if d.Status != door.StatusForceClosed {
			t.Errorf("Status = %q, want FORCE_CLOSED", d.Status)
		}
		if len(d.ActiveRecipients) != 0 {
			t.Errorf("ActiveRecipients count = %d, want 0", len(d.ActiveRecipients))
		}
		if d.OccupiedAt != nil {
			t.Error("OccupiedAt != nil after cancel")
		}

		outstanding, _ := env.repo.CountOutstanding(ctx, "door-001")
		if outstanding != 0 {
			t.Errorf("outstanding = %d, want 0", outstanding)
		}

		movements, _ := env.repo.ListMovements(ctx, "door-001", 1)
		if len(movements) != 1 || movements[0].Action != door.ActionCancel {
			t.Errorf("newest movement = %v, want CANCEL", movements)
		}
		if movements[0].Reason != "damaged parcel" {
			t.Errorf("Reason = %q, want %q", movements[0].Reason, "damaged parcel")
		}
	})

	t.Run("rejects available door", func(t *testing.T) {
		env := setupTestEngine(t)

		_, err := env.engine.Cancel(ctx, "door-001", "oops", "admin")
		if !errors.Is(err, door.ErrInvalidTransition) {
			t.Errorf("Cancel() error = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestEngine_Reactivate(t *testing.T) {
	ctx := context.Background()

	// forceClose occupies and cancels door-001.
	forceClose := func(t *testing.T, env *testEnv) {
		t.Helper()
		if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}
		if _, err := env.engine.Cancel(ctx, "door-001", "stuck", "admin"); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
	}

	t.Run("returns closed door to service", func(t *testing.T) {
		env := setupTestEngine(t)
		forceClose(t, env)

		d, err := env.engine.Reactivate(ctx, "door-001", "admin")
		if err != nil {
			t.Fatalf("Reactivate() error = %v", err)
		}
		if d.Status != door.StatusAvailable {
			t.Errorf("Status = %q, want AVAILABLE", d.Status)
		}
	})

	t.Run("refuses while sensor reports open", func(t *testing.T) {
		env := setupTestEngine(t)
		forceClose(t, env)

		if err := env.engine.HandleEvent(ctx, Event{
			DoorID:      "door-001",
			LockState:   door.LockStateLocked,
			SensorState: door.SensorStateOpen,
			ObservedAt:  time.Now().UTC(),
		}); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		_, err := env.engine.Reactivate(ctx, "door-001", "admin")
		if !errors.Is(err, door.ErrNotClosed) {
			t.Errorf("Reactivate() error = %v, want ErrNotClosed", err)
		}
	})

	t.Run("rejects non-force-closed door", func(t *testing.T) {
		env := setupTestEngine(t)

		_, err := env.engine.Reactivate(ctx, "door-001", "admin")
		if !errors.Is(err, door.ErrInvalidTransition) {
			t.Errorf("Reactivate() error = %v, want ErrInvalidTransition", err)
		}
	})
}

// =============================================================================
// Credential sweep
// =============================================================================

func TestEngine_SweepCredentials(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	env.engine.credTTL = -time.Hour
	if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
		t.Fatalf("Occupy() error = %v", err)
	}

	deleted, err := env.engine.SweepCredentials(ctx)
	if err != nil {
		t.Fatalf("SweepCredentials() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("SweepCredentials() = %d, want 1", deleted)
	}

	outstanding, _ := env.repo.CountOutstanding(ctx, "door-001")
	if outstanding != 0 {
		t.Errorf("outstanding = %d after sweep, want 0", outstanding)
	}
}
