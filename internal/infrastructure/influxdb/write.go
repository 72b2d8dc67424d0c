package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMovement records a movement event (occupation, release, cancellation).
//
// This is the primary method for mirroring the movement trail into the
// time-series store. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - doorID: The door the movement applies to
//   - cabinetID: The cabinet the door belongs to
//   - movementType: "OCCUPY", "RELEASE", or "CANCEL"
//   - recipients: Number of recipients involved in the movement
//
// Example:
//
//	client.WriteMovement("door-a-012", "cab-block-a", "OCCUPY", 3)
func (c *Client) WriteMovement(doorID, cabinetID, movementType string, recipients int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"movements",
		map[string]string{
			"door_id":    doorID,
			"cabinet_id": cabinetID,
			"type":       movementType,
		},
		map[string]interface{}{
			"recipients": recipients,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSensorEvent records a raw sensor transition reported by a controller.
//
// Parameters:
//   - doorID: The door the event applies to
//   - sensor: "lock" or "door"
//   - state: The reported state (e.g., "ENGAGED", "OPEN")
//   - observedAt: Controller-side observation time
func (c *Client) WriteSensorEvent(doorID, sensor, state string, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_events",
		map[string]string{
			"door_id": doorID,
			"sensor":  sensor,
			"state":   state,
		},
		map[string]interface{}{
			"observed": 1,
		},
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDispatchOutcome records the result of a hardware command dispatch.
//
// Used for tracking controller reliability per door.
//
// Parameters:
//   - doorID: The door the command targeted
//   - mode: "DIRECT" or "QUEUED"
//   - success: Whether the dispatch was acknowledged
//   - latency: Round-trip time for direct dispatches (0 for queued)
func (c *Client) WriteDispatchOutcome(doorID, mode string, success bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch",
		map[string]string{
			"door_id": doorID,
			"mode":    mode,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
