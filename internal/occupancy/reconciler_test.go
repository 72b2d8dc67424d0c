package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
)

func closedEvent(doorID string, at time.Time) Event {
	return Event{
		DoorID:      doorID,
		LockState:   door.LockStateLocked,
		SensorState: door.SensorStateClosed,
		ObservedAt:  at,
	}
}

func TestEngine_HandleEvent_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("closed sensor completes the cycle", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}
		if _, err := env.engine.Validate(ctx, res.Credentials[0].Code); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}

		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", time.Now().UTC())); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		d, err := env.registry.Get("door-001")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if d.Status != door.StatusAvailable {
			t.Errorf("Status = %q, want AVAILABLE", d.Status)
		}
		if len(d.ActiveRecipients) != 0 {
			t.Errorf("ActiveRecipients count = %d, want 0", len(d.ActiveRecipients))
		}
		if d.OccupiedAt != nil {
			t.Error("OccupiedAt != nil after release")
		}

		movements, err := env.repo.ListMovements(ctx, "door-001", 1)
		if err != nil {
			t.Fatalf("ListMovements() error = %v", err)
		}
		if len(movements) != 1 || movements[0].Action != door.ActionRelease {
			t.Errorf("newest movement = %v, want RELEASE", movements)
		}
	})

	t.Run("open sensor does not release", func(t *testing.T) {
		env := setupTestEngine(t)

		res, _ := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if _, err := env.engine.Validate(ctx, res.Credentials[0].Code); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}

		ev := Event{
			DoorID:      "door-001",
			LockState:   door.LockStateUnlocked,
			SensorState: door.SensorStateOpen,
			ObservedAt:  time.Now().UTC(),
		}
		if err := env.engine.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		d, _ := env.registry.Get("door-001")
		if d.Status != door.StatusPendingRetrieval {
			t.Errorf("Status = %q, want PENDING_RETRIEVAL", d.Status)
		}
		if d.SensorState != door.SensorStateOpen {
			t.Errorf("SensorState = %q, want open", d.SensorState)
		}
	})

	t.Run("outstanding credential blocks release", func(t *testing.T) {
		env := setupTestEngine(t)

		res, _ := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if _, err := env.engine.Validate(ctx, res.Credentials[0].Code); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}

		// Park one more live credential on the pending door
		d, _ := env.registry.Get("door-001")
		extra := door.NewCredential("door-001", door.Recipient{Block: "Z", Apartment: "9"}, time.Hour)
		mv := &door.Movement{ID: "mov-extra", DoorID: "door-001", Action: door.ActionOccupy, ResultingStatus: d.Status}
		if err := env.repo.ApplyOccupation(ctx, d, []door.Credential{extra}, mv); err != nil {
			t.Fatalf("seeding extra credential: %v", err)
		}

		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", time.Now().UTC())); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		got, _ := env.registry.Get("door-001")
		if got.Status != door.StatusPendingRetrieval {
			t.Errorf("Status = %q, want PENDING_RETRIEVAL while a credential is outstanding", got.Status)
		}
	})

	t.Run("expired credential does not block release", func(t *testing.T) {
		env := setupTestEngine(t)

		res, _ := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9")
		if _, err := env.engine.Validate(ctx, res.Credentials[0].Code); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}

		// Park an already-expired credential on the pending door.
		// Nobody can ever validate it, so it must not hold the door.
		d, _ := env.registry.Get("door-001")
		dead := door.NewCredential("door-001", door.Recipient{Block: "Z", Apartment: "9"}, -time.Hour)
		mv := &door.Movement{ID: "mov-dead", DoorID: "door-001", Action: door.ActionOccupy, ResultingStatus: d.Status}
		if err := env.repo.ApplyOccupation(ctx, d, []door.Credential{dead}, mv); err != nil {
			t.Fatalf("seeding expired credential: %v", err)
		}

		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", time.Now().UTC())); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		got, _ := env.registry.Get("door-001")
		if got.Status != door.StatusAvailable {
			t.Errorf("Status = %q, want AVAILABLE once the only unused credential is expired", got.Status)
		}
	})

	t.Run("closed sensor on occupied door does not release", func(t *testing.T) {
		env := setupTestEngine(t)

		if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
			t.Fatalf("Occupy() error = %v", err)
		}

		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", time.Now().UTC())); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		d, _ := env.registry.Get("door-001")
		if d.Status != door.StatusOccupied {
			t.Errorf("Status = %q, want OCCUPIED", d.Status)
		}
	})
}

func TestEngine_HandleEvent_Ordering(t *testing.T) {
	ctx := context.Background()

	t.Run("stale events dropped silently", func(t *testing.T) {
		env := setupTestEngine(t)

		now := time.Now().UTC()
		if err := env.engine.HandleEvent(ctx, Event{
			DoorID:      "door-001",
			LockState:   door.LockStateUnlocked,
			SensorState: door.SensorStateOpen,
			ObservedAt:  now,
		}); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}

		// Retransmission of an older observation
		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", now.Add(-time.Minute))); err != nil {
			t.Fatalf("stale HandleEvent() error = %v, want nil (silent drop)", err)
		}

		d, _ := env.registry.Get("door-001")
		if d.SensorState != door.SensorStateOpen {
			t.Errorf("SensorState = %q, stale event overwrote newer state", d.SensorState)
		}
	})

	t.Run("equal timestamp is dropped", func(t *testing.T) {
		env := setupTestEngine(t)

		now := time.Now().UTC().Truncate(time.Second)
		if err := env.engine.HandleEvent(ctx, Event{
			DoorID:      "door-001",
			LockState:   door.LockStateUnlocked,
			SensorState: door.SensorStateOpen,
			ObservedAt:  now,
		}); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
		if err := env.engine.HandleEvent(ctx, closedEvent("door-001", now)); err != nil {
			t.Fatalf("duplicate HandleEvent() error = %v", err)
		}

		d, _ := env.registry.Get("door-001")
		if d.SensorState != door.SensorStateOpen {
			t.Errorf("SensorState = %q, duplicate timestamp overwrote state", d.SensorState)
		}
	})

	t.Run("unknown door", func(t *testing.T) {
		env := setupTestEngine(t)

		err := env.engine.HandleEvent(ctx, closedEvent("door-ghost", time.Now().UTC()))
		if !errors.Is(err, door.ErrDoorNotFound) {
			t.Errorf("HandleEvent() error = %v, want ErrDoorNotFound", err)
		}
	})
}

func TestEngine_HandleEvent_ClearsHardwareFlag(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	env.dispatcher.fail = true
	if _, err := env.engine.Occupy(ctx, "door-001", oneRecipient(), "courier-9"); err != nil {
		t.Fatalf("Occupy() error = %v", err)
	}

	d, _ := env.registry.Get("door-001")
	if !d.HardwareFlagged {
		t.Fatal("HardwareFlagged = false after failed dispatch")
	}

	if err := env.engine.HandleEvent(ctx, closedEvent("door-001", time.Now().UTC())); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	d, _ = env.registry.Get("door-001")
	if d.HardwareFlagged {
		t.Error("HardwareFlagged = true, want cleared by reconciled event")
	}
}

func TestEngine_HandleCommandResult(t *testing.T) {
	ctx := context.Background()

	t.Run("success acks the command", func(t *testing.T) {
		env := setupTestEngine(t)

		cmd, err := env.queue.Enqueue(ctx, "door-001", "ctrl-01", 1, "tok", 1500)
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := env.queue.FetchPending(ctx, "ctrl-01"); err != nil {
			t.Fatalf("FetchPending() error = %v", err)
		}

		if err := env.engine.HandleCommandResult(ctx, CommandResult{CommandID: cmd.ID, OK: true}); err != nil {
			t.Fatalf("HandleCommandResult() error = %v", err)
		}

		got, _ := env.queue.Get(ctx, cmd.ID)
		if got.Status != hardware.StatusAcked {
			t.Errorf("Status = %q, want %q", got.Status, hardware.StatusAcked)
		}

		d, _ := env.registry.Get("door-001")
		if d.HardwareFlagged {
			t.Error("HardwareFlagged = true after successful result")
		}
	})

	t.Run("failure flags the door", func(t *testing.T) {
		env := setupTestEngine(t)

		cmd, err := env.queue.Enqueue(ctx, "door-001", "ctrl-01", 1, "tok", 1500)
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}

		if err := env.engine.HandleCommandResult(ctx, CommandResult{CommandID: cmd.ID, OK: false}); err != nil {
			t.Fatalf("HandleCommandResult() error = %v", err)
		}

		got, _ := env.queue.Get(ctx, cmd.ID)
		if got.Status != hardware.StatusFailed {
			t.Errorf("Status = %q, want %q", got.Status, hardware.StatusFailed)
		}

		d, _ := env.registry.Get("door-001")
		if !d.HardwareFlagged {
			t.Error("HardwareFlagged = false after failed result")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		env := setupTestEngine(t)

		err := env.engine.HandleCommandResult(ctx, CommandResult{CommandID: "no-such", OK: true})
		if !errors.Is(err, hardware.ErrCommandNotFound) {
			t.Errorf("HandleCommandResult() error = %v, want ErrCommandNotFound", err)
		}
	})
}
