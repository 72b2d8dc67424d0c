package door

import "time"

// Door represents one physically lockable compartment within a locker cabinet.
// This matches the database schema in migrations/20260301_120000_initial_schema.up.sql.
type Door struct {
	// Identity
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	CabinetID string `json:"cabinet_id"`
	Number    int    `json:"number"`

	// Occupation state
	Status           Status      `json:"status"`
	Shared           bool        `json:"shared"`
	OccupiedAt       *time.Time  `json:"occupied_at,omitempty"`
	ActiveRecipients []Recipient `json:"active_recipients,omitempty"`

	// Last known hardware reports
	LockState   LockState   `json:"lock_state"`
	SensorState SensorState `json:"sensor_state"`
	LastEventAt *time.Time  `json:"last_event_at,omitempty"`

	// HardwareFlagged marks a door whose last dispatch failed or timed out.
	// Cleared on the next successful dispatch or reconciled event.
	HardwareFlagged bool `json:"hardware_flagged"`

	// Controller endpoint (how unlock commands reach this door's controller)
	Endpoint Endpoint `json:"endpoint"`

	// PulseMs overrides the configured default unlock pulse duration.
	// Zero means use the default.
	PulseMs int `json:"pulse_ms,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Door.
// Slice fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Door) DeepCopy() *Door {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.ActiveRecipients != nil {
		cpy.ActiveRecipients = make([]Recipient, len(d.ActiveRecipients))
		copy(cpy.ActiveRecipients, d.ActiveRecipients)
	}

	// Pointer fields (*time.Time) don't need deep copy because
	// time.Time is immutable in Go

	return &cpy
}

// Recipient is a (block, apartment) pairing with a count of parcels owed
// to it within one occupation. Uniqueness key within an occupation is
// (block, apartment); repeats aggregate into Quantity.
type Recipient struct {
	Block     string `json:"block"`
	Apartment string `json:"apartment"`
	Quantity  int    `json:"quantity"`
}

// Status represents the occupation state of a door.
type Status string

// Door status constants.
const (
	// StatusAvailable means the door holds nothing and can accept an occupation.
	StatusAvailable Status = "AVAILABLE"

	// StatusOccupied means the door holds parcels for one or more recipients.
	StatusOccupied Status = "OCCUPIED"

	// StatusPendingRetrieval means a credential unlocked the door and the
	// sensor has not yet confirmed it closed again.
	StatusPendingRetrieval Status = "PENDING_RETRIEVAL"

	// StatusForceClosed means an administrative cancel cleared the
	// occupation without credential validation.
	StatusForceClosed Status = "FORCE_CLOSED"
)

// AllStatuses returns all valid door status values.
func AllStatuses() []Status {
	return []Status{
		StatusAvailable, StatusOccupied,
		StatusPendingRetrieval, StatusForceClosed,
	}
}

// LockState is the last known actuator report for a door.
type LockState string

// Lock state constants.
const (
	LockStateLocked   LockState = "locked"
	LockStateUnlocked LockState = "unlocked"
	LockStateUnknown  LockState = "unknown"
)

// SensorState is the last known magnetic-sensor report for a door.
type SensorState string

// Sensor state constants.
const (
	SensorStateClosed  SensorState = "closed"
	SensorStateOpen    SensorState = "open"
	SensorStateUnknown SensorState = "unknown"
)

// DispatchMode selects how unlock commands reach a door's controller.
type DispatchMode string

// Dispatch mode constants.
const (
	// ModeDirect pushes commands to the controller over HTTP.
	ModeDirect DispatchMode = "DIRECT"

	// ModeQueued persists commands for the controller to poll.
	// Used for controllers behind NAT that cannot be reached directly.
	ModeQueued DispatchMode = "QUEUED"
)

// Endpoint describes how to reach a door's controller.
// Exactly one of URL (DIRECT) or ControllerID (QUEUED) is meaningful;
// callers above the dispatcher never branch on Mode.
type Endpoint struct {
	Mode DispatchMode `json:"mode"`

	// URL is the controller base address for DIRECT dispatch.
	URL string `json:"url,omitempty"`

	// ControllerID identifies the polling controller for QUEUED dispatch.
	ControllerID string `json:"controller_id,omitempty"`
}

// Credential is a single-use provisional access code granting one
// physical unlock for one recipient's claim on a door.
type Credential struct {
	Code   string `json:"code"`
	DoorID string `json:"door_id"`

	// Scope limits the credential to one recipient. Empty block and
	// apartment means "any recipient of this door" (master-style release
	// for shared doors).
	Block     string `json:"block,omitempty"`
	Apartment string `json:"apartment,omitempty"`

	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Consumed reports whether the credential has been spent.
func (c *Credential) Consumed() bool {
	return c.ConsumedAt != nil
}

// Expired reports whether the credential is past its validity window.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Recipient returns the credential's scope as a Recipient value.
// Quantity is not tracked on credentials; it is always zero here.
func (c *Credential) Recipient() Recipient {
	return Recipient{Block: c.Block, Apartment: c.Apartment}
}

// MovementAction identifies the kind of movement recorded.
type MovementAction string

// Movement action constants.
const (
	ActionOccupy  MovementAction = "OCCUPY"
	ActionRelease MovementAction = "RELEASE"
	ActionCancel  MovementAction = "CANCEL"
)

// Movement is a write-only record of an occupation lifecycle event,
// consumed by the external reporting system. Never mutated after creation.
type Movement struct {
	ID              string         `json:"id"`
	DoorID          string         `json:"door_id"`
	Action          MovementAction `json:"action"`
	ResultingStatus Status         `json:"resulting_status"`
	Recipients      []Recipient    `json:"recipients,omitempty"`
	RequestedBy     string         `json:"requested_by,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// MergeRecipients folds extra recipients into existing ones, aggregating
// Quantity on the (block, apartment) key and preserving first-seen order.
// Recipients with quantity below one are rejected by the caller before
// this point.
func MergeRecipients(existing, extra []Recipient) []Recipient {
	merged := make([]Recipient, len(existing))
	copy(merged, existing)

	index := make(map[[2]string]int, len(merged))
	for i, r := range merged {
		index[[2]string{r.Block, r.Apartment}] = i
	}

	for _, r := range extra {
		key := [2]string{r.Block, r.Apartment}
		if i, ok := index[key]; ok {
			merged[i].Quantity += r.Quantity
			continue
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}

	return merged
}
