package occupancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/mqtt"
)

// Event is one hardware observation from a door controller.
// Controllers report asynchronously; ObservedAt carries the
// controller-side timestamp used for ordering.
type Event struct {
	DoorID      string           `json:"door_id"`
	LockState   door.LockState   `json:"lock_state"`
	SensorState door.SensorState `json:"sensor_state"`
	ObservedAt  time.Time        `json:"observed_at"`
}

// CommandResult is a controller's completion report for a queued
// unlock command.
type CommandResult struct {
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
}

// HandleEvent reconciles one controller observation into door state.
//
// Ordering is last-write-wins on ObservedAt: an event at or before the
// door's last reconciled event is dropped without error, since
// controllers may retransmit after reconnecting. A closed-sensor event
// on a PENDING_RETRIEVAL door with no outstanding credentials completes
// the cycle: the door returns to AVAILABLE and a RELEASE movement is
// recorded.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	unlock := e.registry.LockDoor(ev.DoorID)

	d, err := e.registry.Get(ev.DoorID)
	if err != nil {
		unlock()
		return err
	}

	if d.LastEventAt != nil && !ev.ObservedAt.After(*d.LastEventAt) {
		unlock()
		e.logger.Debug("stale hardware event dropped",
			"door_id", ev.DoorID,
			"observed_at", ev.ObservedAt,
			"last_event_at", d.LastEventAt,
		)
		return nil
	}

	if err := e.registry.UpdateHardwareState(ctx, d.ID, ev.LockState, ev.SensorState, ev.ObservedAt); err != nil {
		unlock()
		return err
	}
	d.LockState = ev.LockState
	d.SensorState = ev.SensorState
	observed := ev.ObservedAt.UTC()
	d.LastEventAt = &observed

	// A reconciled event proves the controller is alive again
	if d.HardwareFlagged {
		if err := e.registry.SetHardwareFlag(ctx, d.ID, false); err != nil {
			e.logger.Error("clearing hardware flag", "door_id", d.ID, "error", err)
		} else {
			d.HardwareFlagged = false
		}
	}

	var releaseMv *door.Movement
	if d.Status == door.StatusPendingRetrieval && ev.SensorState == door.SensorStateClosed {
		outstanding, err := e.registry.Repository().CountOutstanding(ctx, d.ID)
		if err != nil {
			unlock()
			return err
		}
		if outstanding == 0 {
			released := d.ActiveRecipients
			if err := d.Transition(door.StatusAvailable); err != nil {
				unlock()
				return err
			}
			d.ActiveRecipients = nil
			d.OccupiedAt = nil

			releaseMv = &door.Movement{
				ID:              uuid.NewString(),
				DoorID:          d.ID,
				Action:          door.ActionRelease,
				ResultingStatus: door.StatusAvailable,
				Recipients:      released,
				CreatedAt:       time.Now().UTC(),
			}

			if err := e.registry.ApplyRelease(ctx, d, releaseMv); err != nil {
				unlock()
				return err
			}
		}
	}
	unlock()

	if e.metrics != nil {
		e.metrics.WriteSensorEvent(d.ID, "door", string(ev.SensorState), ev.ObservedAt)
	}

	if releaseMv != nil {
		e.logger.Info("door released", "door_id", d.ID)
		e.recordMovement(d, releaseMv)
	}
	e.publish(d)

	return nil
}

// HandleCommandResult settles a queued unlock command and maintains the
// door's hardware flag from the reported outcome.
func (e *Engine) HandleCommandResult(ctx context.Context, res CommandResult) error {
	cmd, err := e.queue.Complete(ctx, res.CommandID, res.OK)
	if err != nil {
		return err
	}

	if !res.OK {
		e.logger.Warn("queued unlock failed", "command_id", cmd.ID, "door_id", cmd.DoorID)
		if err := e.registry.SetHardwareFlag(ctx, cmd.DoorID, true); err != nil {
			e.logger.Error("setting hardware flag", "door_id", cmd.DoorID, "error", err)
		}
		return nil
	}

	e.logger.Debug("queued unlock acked", "command_id", cmd.ID, "door_id", cmd.DoorID)
	return nil
}

// Reconciler binds controller MQTT telemetry to the engine.
//
// Controllers publish observations on their event topic and queued
// command outcomes on their result topic; the reconciler subscribes to
// both with wildcards so new controllers need no registration step.
type Reconciler struct {
	engine *Engine
	client *mqtt.Client
	logger Logger
}

// NewReconciler creates a reconciler consuming from the given MQTT client.
func NewReconciler(engine *Engine, client *mqtt.Client) *Reconciler {
	return &Reconciler{
		engine: engine,
		client: client,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for subscription handling.
func (r *Reconciler) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start subscribes to controller telemetry.
// Subscriptions survive broker reconnects; the MQTT client restores them.
func (r *Reconciler) Start() error {
	topics := mqtt.Topics{}

	if err := r.client.Subscribe(topics.AllControllerEvents(), 1, r.handleEventMessage); err != nil {
		return fmt.Errorf("subscribing to controller events: %w", err)
	}
	if err := r.client.Subscribe(topics.AllControllerResults(), 1, r.handleResultMessage); err != nil {
		return fmt.Errorf("subscribing to controller results: %w", err)
	}

	return nil
}

// Stop removes the telemetry subscriptions.
func (r *Reconciler) Stop() error {
	topics := mqtt.Topics{}

	if err := r.client.Unsubscribe(topics.AllControllerEvents()); err != nil {
		return err
	}
	return r.client.Unsubscribe(topics.AllControllerResults())
}

// handleEventMessage decodes and reconciles one telemetry event.
func (r *Reconciler) handleEventMessage(topic string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("malformed hardware event", "topic", topic, "error", err)
		return nil
	}
	if ev.DoorID == "" {
		r.logger.Warn("hardware event without door_id", "topic", topic)
		return nil
	}
	if ev.ObservedAt.IsZero() {
		// Controllers without a clock lean on arrival order
		ev.ObservedAt = time.Now().UTC()
	}

	if err := r.engine.HandleEvent(context.Background(), ev); err != nil {
		if errors.Is(err, door.ErrDoorNotFound) {
			r.logger.Warn("hardware event for unknown door", "door_id", ev.DoorID)
			return nil
		}
		r.logger.Error("reconciling hardware event", "door_id", ev.DoorID, "error", err)
		return err
	}
	return nil
}

// handleResultMessage decodes and settles one queued command result.
func (r *Reconciler) handleResultMessage(topic string, payload []byte) error {
	var res CommandResult
	if err := json.Unmarshal(payload, &res); err != nil {
		r.logger.Warn("malformed command result", "topic", topic, "error", err)
		return nil
	}
	if res.CommandID == "" {
		r.logger.Warn("command result without command_id", "topic", topic)
		return nil
	}

	if err := r.engine.HandleCommandResult(context.Background(), res); err != nil {
		r.logger.Warn("settling command result", "command_id", res.CommandID, "error", err)
	}
	return nil
}
