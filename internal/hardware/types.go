package hardware

import "time"

// CommandStatus tracks a queued unlock command through its lifecycle.
type CommandStatus string

// Command status constants.
const (
	// StatusPending means the command is waiting for its controller to poll.
	StatusPending CommandStatus = "pending"

	// StatusDelivered means a controller has fetched the command but not
	// yet reported an outcome.
	StatusDelivered CommandStatus = "delivered"

	// StatusAcked means the controller reported successful execution.
	StatusAcked CommandStatus = "acked"

	// StatusFailed means the controller reported failure, or the command
	// expired undelivered.
	StatusFailed CommandStatus = "failed"
)

// AllCommandStatuses returns all valid command statuses.
func AllCommandStatuses() []CommandStatus {
	return []CommandStatus{StatusPending, StatusDelivered, StatusAcked, StatusFailed}
}

// Command is one unlock instruction for a polling controller.
// Created by the dispatcher in QUEUED mode, fetched over the poll API,
// and completed by the controller's result report.
type Command struct {
	ID           string        `json:"id"`
	DoorID       string        `json:"door_id"`
	ControllerID string        `json:"controller_id"`
	DoorNumber   int           `json:"door_number"`
	Token        string        `json:"token"`
	PulseMs      int           `json:"pulse_ms"`
	Status       CommandStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	DeliveredAt  *time.Time    `json:"delivered_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Outcome is the result of one dispatch attempt.
//
// In DIRECT mode Success reflects the controller's HTTP response and
// Latency the round trip. In QUEUED mode Success means the command was
// persisted for pickup; the physical outcome arrives later through the
// result report.
type Outcome struct {
	Success bool
	Queued  bool
	Latency time.Duration
	Err     error
}
