package hardware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue persists unlock commands for polling controllers.
//
// QUEUED-mode controllers cannot accept inbound connections, so the
// dispatcher parks commands here and controllers collect them over the
// poll API. A fetched command moves to delivered; the controller's
// result report settles it as acked or failed.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a command queue backed by the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue persists a new pending command and returns it.
func (q *Queue) Enqueue(ctx context.Context, doorID, controllerID string, doorNumber int, token string, pulseMs int) (*Command, error) {
	cmd := &Command{
		ID:           uuid.NewString(),
		DoorID:       doorID,
		ControllerID: controllerID,
		DoorNumber:   doorNumber,
		Token:        token,
		PulseMs:      pulseMs,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO hardware_commands (id, door_id, controller_id, door_number, token, pulse_ms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID,
		cmd.DoorID,
		cmd.ControllerID,
		cmd.DoorNumber,
		cmd.Token,
		cmd.PulseMs,
		string(cmd.Status),
		cmd.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueueing command: %w", err)
	}

	return cmd, nil
}

// FetchPending returns all pending commands for a controller and marks
// them delivered. Each command is handed out exactly once; a second poll
// sees an empty list until new commands arrive.
func (q *Queue) FetchPending(ctx context.Context, controllerID string) ([]Command, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	rows, err := tx.QueryContext(ctx, `
		SELECT id, door_id, controller_id, door_number, token, pulse_ms, status, created_at, delivered_at, completed_at
		FROM hardware_commands
		WHERE controller_id = ? AND status = ?
		ORDER BY created_at`,
		controllerID, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}

	commands, err := scanCommands(rows)
	if err != nil {
		return nil, err
	}

	if len(commands) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	for i := range commands {
		if _, err := tx.ExecContext(ctx,
			`UPDATE hardware_commands SET status = ?, delivered_at = ? WHERE id = ?`,
			string(StatusDelivered), now.Format(time.RFC3339), commands[i].ID,
		); err != nil {
			return nil, fmt.Errorf("marking command delivered: %w", err)
		}
		commands[i].Status = StatusDelivered
		commands[i].DeliveredAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing poll: %w", err)
	}
	return commands, nil
}

// Complete settles a delivered command with the controller's outcome.
// Completing twice returns ErrCommandCompleted.
func (q *Queue) Complete(ctx context.Context, commandID string, ok bool) (*Command, error) {
	status := StatusAcked
	if !ok {
		status = StatusFailed
	}

	now := time.Now().UTC()
	result, err := q.db.ExecContext(ctx, `
		UPDATE hardware_commands
		SET status = ?, completed_at = ?
		WHERE id = ? AND completed_at IS NULL`,
		string(status), now.Format(time.RFC3339), commandID,
	)
	if err != nil {
		return nil, fmt.Errorf("completing command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		cmd, getErr := q.Get(ctx, commandID)
		if getErr != nil {
			return nil, ErrCommandNotFound
		}
		return cmd, ErrCommandCompleted
	}

	return q.Get(ctx, commandID)
}

// Get retrieves a command by ID.
func (q *Queue) Get(ctx context.Context, commandID string) (*Command, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, door_id, controller_id, door_number, token, pulse_ms, status, created_at, delivered_at, completed_at
		FROM hardware_commands
		WHERE id = ?`,
		commandID,
	)

	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// CountUnsettled returns the number of pending or delivered commands
// for a door. Used to surface stuck controllers in door status.
func (q *Queue) CountUnsettled(ctx context.Context, doorID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hardware_commands
		WHERE door_id = ? AND status IN (?, ?)`,
		doorID, string(StatusPending), string(StatusDelivered),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unsettled commands: %w", err)
	}
	return count, nil
}

// ExpireStale marks pending and delivered commands older than the cutoff
// as failed. Returns the number expired.
func (q *Queue) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	result, err := q.db.ExecContext(ctx, `
		UPDATE hardware_commands
		SET status = ?, completed_at = ?
		WHERE status IN (?, ?) AND created_at < ?`,
		string(StatusFailed), now.Format(time.RFC3339),
		string(StatusPending), string(StatusDelivered),
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring stale commands: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return expired, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCommand scans a row or rows result into a Command.
func scanCommand(scanner rowScanner) (*Command, error) {
	var cmd Command
	var status, createdAt string
	var deliveredAt, completedAt sql.NullString

	err := scanner.Scan(
		&cmd.ID,
		&cmd.DoorID,
		&cmd.ControllerID,
		&cmd.DoorNumber,
		&cmd.Token,
		&cmd.PulseMs,
		&status,
		&createdAt,
		&deliveredAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	cmd.Status = CommandStatus(status)

	var parseErr error
	cmd.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339, deliveredAt.String)
		if err == nil {
			cmd.DeliveredAt = &t
		}
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			cmd.CompletedAt = &t
		}
	}

	return &cmd, nil
}

// scanCommands drains a rows result into a slice of Commands.
func scanCommands(rows *sql.Rows) ([]Command, error) {
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}
