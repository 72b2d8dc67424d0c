package mqtt

import "fmt"

// Topic prefixes for the Ostiary MQTT hierarchy.
//
// Controller-facing topics use the flat scheme: ostiary/{category}/{controller_id}
// Core-published topics live under ostiary/core/.
const (
	// TopicPrefixController is the base for all controller topics.
	// Flat scheme: ostiary/{category}/{controller_id}
	TopicPrefixController = "ostiary"

	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "ostiary/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ostiary/system"
)

// Topics provides builders for Ostiary MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.ControllerEvent("ctrl-block-a")
//	// Returns: "ostiary/telemetry/ctrl-block-a/event"
type Topics struct{}

// =============================================================================
// Controller Topics
// =============================================================================

// ControllerEvent returns the topic a door controller publishes sensor
// events to (lock engaged/released, door opened/closed).
//
// Example: ostiary/telemetry/ctrl-block-a/event
func (Topics) ControllerEvent(controllerID string) string {
	return fmt.Sprintf("%s/telemetry/%s/event", TopicPrefixController, controllerID)
}

// ControllerResult returns the topic a queued-mode controller publishes
// command outcomes to after executing a fetched command.
//
// Example: ostiary/telemetry/ctrl-block-a/result
func (Topics) ControllerResult(controllerID string) string {
	return fmt.Sprintf("%s/telemetry/%s/result", TopicPrefixController, controllerID)
}

// ControllerHealth returns the topic for controller health status.
// Controllers set an offline LWT on this topic.
//
// Example: ostiary/health/ctrl-block-a
func (Topics) ControllerHealth(controllerID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixController, controllerID)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreDoorState returns the canonical door state topic.
// This is the authoritative state published by Core after an operation or
// a reconciled sensor event.
//
// Example: ostiary/core/door/door-a-012/state
func (Topics) CoreDoorState(doorID string) string {
	return fmt.Sprintf("%s/door/%s/state", TopicPrefixCore, doorID)
}

// CoreEvent returns the topic for domain events.
//
// Example: ostiary/core/event/door_occupied
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// CoreAlert returns the topic for operational alerts, such as a door
// flagged after a failed hardware dispatch.
//
// Example: ostiary/core/alert/door-a-012
func (Topics) CoreAlert(doorID string) string {
	return fmt.Sprintf("%s/alert/%s", TopicPrefixCore, doorID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
// Core publishes retained online/offline here, with an offline LWT.
//
// Example: ostiary/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: ostiary/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllControllerEvents returns a pattern matching sensor events from every
// controller on the site.
//
// Pattern: ostiary/telemetry/+/event
func (Topics) AllControllerEvents() string {
	return fmt.Sprintf("%s/telemetry/+/event", TopicPrefixController)
}

// AllControllerResults returns a pattern matching command outcomes from
// every queued-mode controller.
//
// Pattern: ostiary/telemetry/+/result
func (Topics) AllControllerResults() string {
	return fmt.Sprintf("%s/telemetry/+/result", TopicPrefixController)
}

// AllControllerHealth returns a pattern matching all controller health updates.
//
// Pattern: ostiary/health/+
func (Topics) AllControllerHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixController)
}

// AllCoreDoorStates returns a pattern matching all canonical door states.
//
// Pattern: ostiary/core/door/+/state
func (Topics) AllCoreDoorStates() string {
	return fmt.Sprintf("%s/door/+/state", TopicPrefixCore)
}

// AllCoreEvents returns a pattern matching all core events.
//
// Pattern: ostiary/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all Ostiary topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: ostiary/#
func (Topics) AllTopics() string {
	return "ostiary/#"
}
