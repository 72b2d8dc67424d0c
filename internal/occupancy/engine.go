package occupancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
)

// Logger defines the minimal logging interface the engine needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Debug(msg string, args ...any) {}

// Dispatcher sends unlock commands to door controllers.
// Satisfied by *hardware.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *door.Door) hardware.Outcome
}

// EventPublisher fans door state changes out to MQTT and WebSocket
// consumers. Nil disables publishing.
type EventPublisher interface {
	DoorStateChanged(d *door.Door)
}

// MetricsWriter records movements and sensor transitions for the
// reporting time-series. Nil disables recording.
type MetricsWriter interface {
	WriteMovement(doorID, cabinetID, movementType string, recipients int)
	WriteSensorEvent(doorID, sensor, state string, observedAt time.Time)
}

// Engine orchestrates the occupation lifecycle.
//
// Every state-changing operation follows the same shape: acquire the
// per-door lock, validate against the state machine, persist door plus
// credentials plus movement in one transaction, release the lock, and
// only then talk to hardware. A failed unlock flags the door but never
// rolls back the logical operation.
type Engine struct {
	registry   *door.Registry
	dispatcher Dispatcher
	queue      *hardware.Queue
	credTTL    time.Duration
	logger     Logger
	events     EventPublisher
	metrics    MetricsWriter
}

// NewEngine creates an occupancy engine.
// credTTL is the validity window for issued retrieval credentials.
func NewEngine(registry *door.Registry, dispatcher Dispatcher, queue *hardware.Queue, credTTL time.Duration) *Engine {
	return &Engine{
		registry:   registry,
		dispatcher: dispatcher,
		queue:      queue,
		credTTL:    credTTL,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for engine operations.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetEvents attaches a door state change publisher.
func (e *Engine) SetEvents(events EventPublisher) {
	e.events = events
}

// SetMetrics attaches a movement and sensor metrics recorder.
func (e *Engine) SetMetrics(metrics MetricsWriter) {
	e.metrics = metrics
}

// OccupyResult is the outcome of a successful occupation.
type OccupyResult struct {
	Door        *door.Door
	Credentials []door.Credential

	// HardwareWarning is set when the logical occupation succeeded but
	// the unlock command failed or timed out.
	HardwareWarning bool
}

// Occupy places parcels for one or more recipients in a door.
//
// Recipients repeating a (block, apartment) pair are aggregated before
// any credential is issued; one credential is issued per distinct
// recipient, regardless of quantity. A non-shared door must be
// AVAILABLE; a shared door also accepts additional recipients while
// OCCUPIED.
func (e *Engine) Occupy(ctx context.Context, doorID string, recipients []door.Recipient, requestedBy string) (*OccupyResult, error) {
	cleaned, err := aggregateRecipients(recipients)
	if err != nil {
		return nil, err
	}

	unlock := e.registry.LockDoor(doorID)

	d, err := e.registry.Get(doorID)
	if err != nil {
		unlock()
		return nil, err
	}

	if !d.CanOccupy() {
		unlock()
		return nil, fmt.Errorf("%w: door %s is %s", door.ErrDoorUnavailable, doorID, d.Status)
	}

	now := time.Now().UTC()
	if d.Status == door.StatusAvailable {
		if err := d.Transition(door.StatusOccupied); err != nil {
			unlock()
			return nil, err
		}
		d.OccupiedAt = &now
	}
	d.ActiveRecipients = door.MergeRecipients(d.ActiveRecipients, cleaned)

	creds := make([]door.Credential, 0, len(cleaned))
	for _, r := range cleaned {
		creds = append(creds, door.NewCredential(d.ID, r, e.credTTL))
	}

	mv := &door.Movement{
		ID:              uuid.NewString(),
		DoorID:          d.ID,
		Action:          door.ActionOccupy,
		ResultingStatus: d.Status,
		Recipients:      cleaned,
		RequestedBy:     requestedBy,
		CreatedAt:       now,
	}

	if err := e.registry.ApplyOccupation(ctx, d, creds, mv); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	warning := e.fireUnlock(ctx, d)

	e.logger.Info("door occupied",
		"door_id", d.ID,
		"recipients", len(cleaned),
		"requested_by", requestedBy,
		"hardware_warning", warning,
	)

	e.publish(d)
	e.recordMovement(d, mv)

	return &OccupyResult{Door: d, Credentials: creds, HardwareWarning: warning}, nil
}

// ValidateResult is the outcome of a successful credential validation.
type ValidateResult struct {
	Door      *door.Door
	Recipient door.Recipient

	// HardwareWarning is set when the credential was consumed but the
	// unlock command failed or timed out.
	HardwareWarning bool
}

// Validate consumes a retrieval credential and unlocks its door.
//
// The error taxonomy is deliberate: ErrCredentialNotFound for unknown
// codes, ErrCredentialExpired past the validity window, and
// ErrCredentialAlreadyUsed for replays, including the race where two
// callers present the same code concurrently. Any successful validate
// of an OCCUPIED door moves it to PENDING_RETRIEVAL; the door only
// returns to AVAILABLE once the sensor reports closed with no
// credentials left outstanding.
func (e *Engine) Validate(ctx context.Context, code string) (*ValidateResult, error) {
	repo := e.registry.Repository()

	cred, err := repo.GetCredential(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if cred.Consumed() {
		return nil, door.ErrCredentialAlreadyUsed
	}
	if cred.Expired(now) {
		return nil, door.ErrCredentialExpired
	}

	unlock := e.registry.LockDoor(cred.DoorID)

	d, err := e.registry.Get(cred.DoorID)
	if err != nil {
		unlock()
		return nil, err
	}

	if d.Status == door.StatusOccupied {
		if err := d.Transition(door.StatusPendingRetrieval); err != nil {
			unlock()
			return nil, err
		}
	}

	if err := e.registry.ApplyValidation(ctx, d, code, now); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	warning := e.fireUnlock(ctx, d)

	e.logger.Info("credential validated",
		"door_id", d.ID,
		"block", cred.Block,
		"apartment", cred.Apartment,
		"status", d.Status,
		"hardware_warning", warning,
	)

	e.publish(d)

	return &ValidateResult{Door: d, Recipient: cred.Recipient(), HardwareWarning: warning}, nil
}

// Cancel force-closes an occupied door.
//
// All outstanding credentials are invalidated in the same transaction,
// so none of them can validate afterwards. The door must be OCCUPIED or
// PENDING_RETRIEVAL. No unlock command is sent; the parcels stay where
// they are until staff clears the door and reactivates it.
func (e *Engine) Cancel(ctx context.Context, doorID, reason, requestedBy string) (*door.Door, error) {
	unlock := e.registry.LockDoor(doorID)

	d, err := e.registry.Get(doorID)
	if err != nil {
		unlock()
		return nil, err
	}

	if err := d.Transition(door.StatusForceClosed); err != nil {
		unlock()
		return nil, err
	}

	now := time.Now().UTC()
	cancelled := d.ActiveRecipients
	d.ActiveRecipients = nil
	d.OccupiedAt = nil

	mv := &door.Movement{
		ID:              uuid.NewString(),
		DoorID:          d.ID,
		Action:          door.ActionCancel,
		ResultingStatus: door.StatusForceClosed,
		Recipients:      cancelled,
		RequestedBy:     requestedBy,
		Reason:          reason,
		CreatedAt:       now,
	}

	if err := e.registry.ApplyCancel(ctx, d, mv, now); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	e.logger.Info("door cancelled",
		"door_id", d.ID,
		"reason", reason,
		"requested_by", requestedBy,
	)

	e.publish(d)
	e.recordMovement(d, mv)

	return d, nil
}

// Reactivate returns a FORCE_CLOSED door to service.
// Refused with ErrNotClosed until the door sensor has confirmed the
// door is physically shut.
func (e *Engine) Reactivate(ctx context.Context, doorID, requestedBy string) (*door.Door, error) {
	unlock := e.registry.LockDoor(doorID)

	d, err := e.registry.Get(doorID)
	if err != nil {
		unlock()
		return nil, err
	}

	if d.Status != door.StatusForceClosed {
		unlock()
		return nil, fmt.Errorf("%w: %s -> %s", door.ErrInvalidTransition, d.Status, door.StatusAvailable)
	}
	if d.SensorState != door.SensorStateClosed {
		unlock()
		return nil, fmt.Errorf("%w: sensor reports %s", door.ErrNotClosed, d.SensorState)
	}

	if err := d.Transition(door.StatusAvailable); err != nil {
		unlock()
		return nil, err
	}

	if err := e.registry.Update(ctx, d); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	e.logger.Info("door reactivated", "door_id", d.ID, "requested_by", requestedBy)
	e.publish(d)

	return d, nil
}

// SweepCredentials deletes unconsumed credentials that have expired.
// Returns the number deleted.
func (e *Engine) SweepCredentials(ctx context.Context) (int64, error) {
	deleted, err := e.registry.Repository().DeleteExpiredCredentials(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.logger.Info("expired credentials swept", "deleted", deleted)
	}
	return deleted, nil
}

// RunSweeper runs the credential sweep on an interval until the context
// is cancelled. Intended as a goroutine from main.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepCredentials(ctx); err != nil {
				e.logger.Error("credential sweep failed", "error", err)
			}
		}
	}
}

// fireUnlock dispatches an unlock command and maintains the door's
// hardware flag. Returns true when the caller should surface a warning.
// Called after the door lock is released; the logical operation has
// already committed.
func (e *Engine) fireUnlock(ctx context.Context, d *door.Door) bool {
	if e.dispatcher == nil {
		return false
	}

	out := e.dispatcher.Dispatch(ctx, d)
	if out.Err != nil {
		if err := e.registry.SetHardwareFlag(ctx, d.ID, true); err != nil {
			e.logger.Error("setting hardware flag", "door_id", d.ID, "error", err)
		}
		d.HardwareFlagged = true
		return true
	}

	if d.HardwareFlagged {
		if err := e.registry.SetHardwareFlag(ctx, d.ID, false); err != nil {
			e.logger.Error("clearing hardware flag", "door_id", d.ID, "error", err)
		}
		d.HardwareFlagged = false
	}
	return false
}

// publish fans the door's current state out to subscribers.
func (e *Engine) publish(d *door.Door) {
	if e.events != nil {
		e.events.DoorStateChanged(d)
	}
}

// recordMovement writes a movement to the metrics sink.
func (e *Engine) recordMovement(d *door.Door, mv *door.Movement) {
	if e.metrics != nil {
		e.metrics.WriteMovement(d.ID, d.CabinetID, string(mv.Action), len(mv.Recipients))
	}
}

// aggregateRecipients validates and folds a recipient list, merging
// duplicate (block, apartment) pairs.
func aggregateRecipients(recipients []door.Recipient) ([]door.Recipient, error) {
	if len(recipients) == 0 {
		return nil, door.ErrEmptyRecipients
	}
	for _, r := range recipients {
		if r.Block == "" || r.Apartment == "" {
			return nil, fmt.Errorf("%w: recipient missing block or apartment", door.ErrEmptyRecipients)
		}
		if r.Quantity < 1 {
			return nil, fmt.Errorf("%w: recipient %s/%s has quantity %d", door.ErrEmptyRecipients, r.Block, r.Apartment, r.Quantity)
		}
	}
	return door.MergeRecipients(nil, recipients), nil
}
