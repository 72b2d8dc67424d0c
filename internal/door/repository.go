package door

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for door persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// The Apply* methods are transactional: each persists its door, credential,
// and movement writes as one unit, so a partial failure can never leave a
// door OCCUPIED with no credentials or vice versa.
type Repository interface {
	// GetByID retrieves a door by its unique identifier.
	// Returns ErrDoorNotFound if the door does not exist.
	GetByID(ctx context.Context, id string) (*Door, error)

	// List retrieves all doors.
	List(ctx context.Context) ([]Door, error)

	// ListByCabinet retrieves all doors in a specific cabinet.
	ListByCabinet(ctx context.Context, cabinetID string) ([]Door, error)

	// ListByStatus retrieves all doors in a specific status.
	ListByStatus(ctx context.Context, status Status) ([]Door, error)

	// Create inserts a new door.
	// Returns ErrDoorExists if the ID or (cabinet, number) pair is taken.
	Create(ctx context.Context, d *Door) error

	// Update modifies an existing door.
	// Returns ErrDoorNotFound if the door does not exist.
	Update(ctx context.Context, d *Door) error

	// Delete removes a door by ID.
	// Returns ErrDoorNotFound if the door does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateHardwareState updates only the hardware report fields.
	// This is optimised for frequent reconciler writes.
	UpdateHardwareState(ctx context.Context, id string, lock LockState, sensor SensorState, observedAt time.Time) error

	// SetHardwareFlag sets or clears the failed-dispatch flag.
	SetHardwareFlag(ctx context.Context, id string, flagged bool) error

	// ApplyOccupation persists an occupation in one transaction:
	// the updated door, its new credentials, and an OCCUPY movement.
	ApplyOccupation(ctx context.Context, d *Door, creds []Credential, mv *Movement) error

	// ApplyValidation persists a successful credential validation in one
	// transaction: the consumed credential and the updated door.
	// The consumption is a compare-and-set guarded on consumed_at IS NULL;
	// returns ErrCredentialAlreadyUsed if another caller won the race.
	ApplyValidation(ctx context.Context, d *Door, code string, consumedAt time.Time) error

	// ApplyRelease persists a reconciled release in one transaction:
	// the updated door and a RELEASE movement.
	ApplyRelease(ctx context.Context, d *Door, mv *Movement) error

	// ApplyCancel persists an administrative cancel in one transaction:
	// the updated door, invalidation of all outstanding credentials,
	// and a CANCEL movement.
	ApplyCancel(ctx context.Context, d *Door, mv *Movement, invalidatedAt time.Time) error

	// GetCredential retrieves a credential by code.
	// Returns ErrCredentialNotFound if no credential matches.
	GetCredential(ctx context.Context, code string) (*Credential, error)

	// ListDoorCredentials retrieves all credentials for a door,
	// newest first.
	ListDoorCredentials(ctx context.Context, doorID string) ([]Credential, error)

	// CountOutstanding returns the number of unconsumed, unexpired
	// credentials for a door.
	CountOutstanding(ctx context.Context, doorID string) (int, error)

	// DeleteExpiredCredentials removes unconsumed credentials that
	// expired before the given time. Returns the number deleted.
	DeleteExpiredCredentials(ctx context.Context, before time.Time) (int64, error)

	// ListMovements retrieves movement records for a door, newest first,
	// up to limit (0 means no limit).
	ListMovements(ctx context.Context, doorID string, limit int) ([]Movement, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const doorColumns = `id, site_id, cabinet_id, number, status, shared,
	occupied_at, active_recipients, lock_state, sensor_state, last_event_at,
	hardware_flagged, endpoint_mode, endpoint_url, controller_id, pulse_ms,
	created_at, updated_at`

// GetByID retrieves a door by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Door, error) {
	query := `SELECT ` + doorColumns + ` FROM doors WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDoorRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDoorNotFound
		}
		return nil, fmt.Errorf("querying door by id: %w", err)
	}
	return d, nil
}

// List retrieves all doors.
func (r *SQLiteRepository) List(ctx context.Context) ([]Door, error) {
	query := `SELECT ` + doorColumns + ` FROM doors ORDER BY cabinet_id, number`
	return r.queryDoors(ctx, query)
}

// ListByCabinet retrieves all doors in a specific cabinet.
func (r *SQLiteRepository) ListByCabinet(ctx context.Context, cabinetID string) ([]Door, error) {
	query := `SELECT ` + doorColumns + ` FROM doors WHERE cabinet_id = ? ORDER BY number`
	return r.queryDoors(ctx, query, cabinetID)
}

// ListByStatus retrieves all doors in a specific status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Door, error) {
	query := `SELECT ` + doorColumns + ` FROM doors WHERE status = ? ORDER BY cabinet_id, number`
	return r.queryDoors(ctx, query, string(status))
}

// Create inserts a new door.
func (r *SQLiteRepository) Create(ctx context.Context, d *Door) error {
	recipientsJSON, err := json.Marshal(d.ActiveRecipients)
	if err != nil {
		return fmt.Errorf("marshalling recipients: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO doors (
			id, site_id, cabinet_id, number, status, shared,
			occupied_at, active_recipients, lock_state, sensor_state, last_event_at,
			hardware_flagged, endpoint_mode, endpoint_url, controller_id, pulse_ms,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.SiteID,
		d.CabinetID,
		d.Number,
		string(d.Status),
		boolToInt(d.Shared),
		nullableTime(d.OccupiedAt),
		string(recipientsJSON),
		string(d.LockState),
		string(d.SensorState),
		nullableTime(d.LastEventAt),
		boolToInt(d.HardwareFlagged),
		string(d.Endpoint.Mode),
		emptyToNull(d.Endpoint.URL),
		emptyToNull(d.Endpoint.ControllerID),
		d.PulseMs,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDoorExists
		}
		return fmt.Errorf("inserting door: %w", err)
	}

	return nil
}

// Update modifies an existing door.
func (r *SQLiteRepository) Update(ctx context.Context, d *Door) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, updateDoorQuery, updateDoorArgs(d)...)
	if err != nil {
		return fmt.Errorf("updating door: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDoorNotFound
	}

	return nil
}

// Delete removes a door by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM doors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting door: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDoorNotFound
	}

	return nil
}

// UpdateHardwareState updates only the hardware report fields.
func (r *SQLiteRepository) UpdateHardwareState(ctx context.Context, id string, lock LockState, sensor SensorState, observedAt time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE doors
		SET lock_state = ?, sensor_state = ?, last_event_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(lock),
		string(sensor),
		observedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating hardware state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDoorNotFound
	}

	return nil
}

// SetHardwareFlag sets or clears the failed-dispatch flag.
func (r *SQLiteRepository) SetHardwareFlag(ctx context.Context, id string, flagged bool) error {
	now := time.Now().UTC()
	query := `UPDATE doors SET hardware_flagged = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, boolToInt(flagged), now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating hardware flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDoorNotFound
	}

	return nil
}

// ApplyOccupation persists an occupation in one transaction.
func (r *SQLiteRepository) ApplyOccupation(ctx context.Context, d *Door, creds []Credential, mv *Movement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := updateDoorTx(ctx, tx, d); err != nil {
		return err
	}

	for i := range creds {
		if err := insertCredentialTx(ctx, tx, &creds[i]); err != nil {
			return err
		}
	}

	if err := insertMovementTx(ctx, tx, mv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing occupation: %w", err)
	}
	return nil
}

// ApplyValidation persists a successful credential validation in one
// transaction. The credential consumption is a compare-and-set: two
// concurrent validations of the same code cannot both succeed.
func (r *SQLiteRepository) ApplyValidation(ctx context.Context, d *Door, code string, consumedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE credentials SET consumed_at = ? WHERE code = ? AND consumed_at IS NULL`,
		consumedAt.UTC().Format(time.RFC3339),
		code,
	)
	if err != nil {
		return fmt.Errorf("consuming credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCredentialAlreadyUsed
	}

	if err := updateDoorTx(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing validation: %w", err)
	}
	return nil
}

// ApplyRelease persists a reconciled release in one transaction.
func (r *SQLiteRepository) ApplyRelease(ctx context.Context, d *Door, mv *Movement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := updateDoorTx(ctx, tx, d); err != nil {
		return err
	}

	if err := insertMovementTx(ctx, tx, mv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing release: %w", err)
	}
	return nil
}

// ApplyCancel persists an administrative cancel in one transaction.
// Outstanding credentials are marked consumed without having been used,
// so they can never later validate.
func (r *SQLiteRepository) ApplyCancel(ctx context.Context, d *Door, mv *Movement, invalidatedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := updateDoorTx(ctx, tx, d); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET consumed_at = ? WHERE door_id = ? AND consumed_at IS NULL`,
		invalidatedAt.UTC().Format(time.RFC3339),
		d.ID,
	); err != nil {
		return fmt.Errorf("invalidating credentials: %w", err)
	}

	if err := insertMovementTx(ctx, tx, mv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cancel: %w", err)
	}
	return nil
}

// GetCredential retrieves a credential by code.
func (r *SQLiteRepository) GetCredential(ctx context.Context, code string) (*Credential, error) {
	query := `
		SELECT code, door_id, block, apartment, issued_at, expires_at, consumed_at
		FROM credentials
		WHERE code = ?`

	row := r.db.QueryRowContext(ctx, query, code)
	c, err := scanCredentialRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

// ListDoorCredentials retrieves all credentials for a door, newest first.
func (r *SQLiteRepository) ListDoorCredentials(ctx context.Context, doorID string) ([]Credential, error) {
	query := `
		SELECT code, door_id, block, apartment, issued_at, expires_at, consumed_at
		FROM credentials
		WHERE door_id = ?
		ORDER BY issued_at DESC`

	rows, err := r.db.QueryContext(ctx, query, doorID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredentialRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// CountOutstanding returns the number of live credentials for a door.
// Expired codes can never validate, so counting them would hold a
// pending door hostage to a code nobody can use.
func (r *SQLiteRepository) CountOutstanding(ctx context.Context, doorID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credentials WHERE door_id = ? AND consumed_at IS NULL AND expires_at > ?",
		doorID, time.Now().UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting outstanding credentials: %w", err)
	}
	return count, nil
}

// DeleteExpiredCredentials removes unconsumed credentials that expired
// before the given time.
func (r *SQLiteRepository) DeleteExpiredCredentials(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE consumed_at IS NULL AND expires_at < ?",
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired credentials: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}

// ListMovements retrieves movement records for a door, newest first.
func (r *SQLiteRepository) ListMovements(ctx context.Context, doorID string, limit int) ([]Movement, error) {
	query := `
		SELECT id, door_id, action, resulting_status, recipients, requested_by, reason, created_at
		FROM movements
		WHERE door_id = ?
		ORDER BY created_at DESC`

	args := []any{doorID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var action, status string
		var recipientsJSON string
		var requestedBy, reason sql.NullString
		var createdAt string

		if err := rows.Scan(&m.ID, &m.DoorID, &action, &status, &recipientsJSON, &requestedBy, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning movement: %w", err)
		}

		m.Action = MovementAction(action)
		m.ResultingStatus = Status(status)
		if requestedBy.Valid {
			m.RequestedBy = requestedBy.String
		}
		if reason.Valid {
			m.Reason = reason.String
		}
		if err := json.Unmarshal([]byte(recipientsJSON), &m.Recipients); err != nil {
			return nil, fmt.Errorf("unmarshalling recipients: %w", err)
		}
		m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		movements = append(movements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movements: %w", err)
	}
	return movements, nil
}

// queryDoors executes a query and returns a slice of doors.
func (r *SQLiteRepository) queryDoors(ctx context.Context, query string, args ...any) ([]Door, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying doors: %w", err)
	}
	defer rows.Close()

	var doors []Door
	for rows.Next() {
		d, err := scanDoorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning door: %w", err)
		}
		doors = append(doors, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating doors: %w", err)
	}
	return doors, nil
}

const updateDoorQuery = `
	UPDATE doors SET
		site_id = ?, cabinet_id = ?, number = ?, status = ?, shared = ?,
		occupied_at = ?, active_recipients = ?, lock_state = ?, sensor_state = ?,
		last_event_at = ?, hardware_flagged = ?, endpoint_mode = ?, endpoint_url = ?,
		controller_id = ?, pulse_ms = ?, updated_at = ?
	WHERE id = ?`

// updateDoorArgs builds the argument list for updateDoorQuery.
func updateDoorArgs(d *Door) []any {
	recipientsJSON, _ := json.Marshal(d.ActiveRecipients) //nolint:errcheck // Recipient contains only plain fields

	return []any{
		d.SiteID,
		d.CabinetID,
		d.Number,
		string(d.Status),
		boolToInt(d.Shared),
		nullableTime(d.OccupiedAt),
		string(recipientsJSON),
		string(d.LockState),
		string(d.SensorState),
		nullableTime(d.LastEventAt),
		boolToInt(d.HardwareFlagged),
		string(d.Endpoint.Mode),
		emptyToNull(d.Endpoint.URL),
		emptyToNull(d.Endpoint.ControllerID),
		d.PulseMs,
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	}
}

// execer is an interface that sql.DB and sql.Tx both implement.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateDoorTx updates a door within a transaction.
func updateDoorTx(ctx context.Context, tx execer, d *Door) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := tx.ExecContext(ctx, updateDoorQuery, updateDoorArgs(d)...)
	if err != nil {
		return fmt.Errorf("updating door: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDoorNotFound
	}
	return nil
}

// insertCredentialTx inserts a credential within a transaction.
func insertCredentialTx(ctx context.Context, tx execer, c *Credential) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (code, door_id, block, apartment, issued_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Code,
		c.DoorID,
		c.Block,
		c.Apartment,
		c.IssuedAt.UTC().Format(time.RFC3339),
		c.ExpiresAt.UTC().Format(time.RFC3339),
		nullableTime(c.ConsumedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

// insertMovementTx inserts a movement record within a transaction.
func insertMovementTx(ctx context.Context, tx execer, m *Movement) error {
	recipientsJSON, err := json.Marshal(m.Recipients)
	if err != nil {
		return fmt.Errorf("marshalling movement recipients: %w", err)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO movements (id, door_id, action, resulting_status, recipients, requested_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.DoorID,
		string(m.Action),
		string(m.ResultingStatus),
		string(recipientsJSON),
		emptyToNull(m.RequestedBy),
		emptyToNull(m.Reason),
		m.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting movement: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDoorRow scans a row or rows result into a Door.
func scanDoorRow(scanner rowScanner) (*Door, error) {
	var d Door
	var occupiedAt, lastEventAt sql.NullString
	var endpointURL, controllerID sql.NullString
	var recipientsJSON string
	var shared, flagged int
	var status, lockState, sensorState, endpointMode string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.SiteID,
		&d.CabinetID,
		&d.Number,
		&status,
		&shared,
		&occupiedAt,
		&recipientsJSON,
		&lockState,
		&sensorState,
		&lastEventAt,
		&flagged,
		&endpointMode,
		&endpointURL,
		&controllerID,
		&d.PulseMs,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Shared = shared != 0
	d.LockState = LockState(lockState)
	d.SensorState = SensorState(sensorState)
	d.HardwareFlagged = flagged != 0
	d.Endpoint.Mode = DispatchMode(endpointMode)
	if endpointURL.Valid {
		d.Endpoint.URL = endpointURL.String
	}
	if controllerID.Valid {
		d.Endpoint.ControllerID = controllerID.String
	}

	if occupiedAt.Valid {
		t, err := time.Parse(time.RFC3339, occupiedAt.String)
		if err == nil {
			d.OccupiedAt = &t
		}
	}
	if lastEventAt.Valid {
		t, err := time.Parse(time.RFC3339, lastEventAt.String)
		if err == nil {
			d.LastEventAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(recipientsJSON), &d.ActiveRecipients); err != nil {
		return nil, fmt.Errorf("unmarshalling recipients: %w", err)
	}

	return &d, nil
}

// scanCredentialRow scans a row or rows result into a Credential.
func scanCredentialRow(scanner rowScanner) (*Credential, error) {
	var c Credential
	var issuedAt, expiresAt string
	var consumedAt sql.NullString

	err := scanner.Scan(&c.Code, &c.DoorID, &c.Block, &c.Apartment, &issuedAt, &expiresAt, &consumedAt)
	if err != nil {
		return nil, err
	}

	var parseErr error
	c.IssuedAt, parseErr = time.Parse(time.RFC3339, issuedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", parseErr)
	}
	c.ExpiresAt, parseErr = time.Parse(time.RFC3339, expiresAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", parseErr)
	}

	if consumedAt.Valid {
		t, err := time.Parse(time.RFC3339, consumedAt.String)
		if err == nil {
			c.ConsumedAt = &t
		}
	}

	return &c, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// emptyToNull returns a sql.NullString that is NULL for the empty string.
func emptyToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
