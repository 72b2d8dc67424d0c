// Package occupancy orchestrates the parcel lifecycle for Ostiary Core.
//
// The engine ties the Door Registry, the hardware dispatcher, and the
// controller telemetry stream into the four operations that move parcels
// through a locker:
//
//	Occupy     courier loads parcels, recipients get credentials
//	Validate   recipient presents a credential, door unlocks
//	Cancel     staff force-closes an occupied door
//	Reactivate staff returns a force-closed door to service
//
// plus the asynchronous half of the cycle: the reconciler consumes
// controller observations and completes PENDING_RETRIEVAL doors back to
// AVAILABLE once the sensor confirms the door is shut and no credential
// remains outstanding.
//
// # Operation Shape
//
// Every state-changing operation follows the same sequence:
//
//  1. acquire the per-door lock from the registry
//  2. validate against the state machine
//  3. persist door + credentials + movement in one transaction
//  4. release the lock
//  5. dispatch hardware and publish events
//
// Hardware is deliberately last and outside the lock: a slow controller
// can never stall the API or hold up another operation on the same
// door, and a failed unlock flags the door instead of rolling back a
// parcel that is already physically inside.
//
// # Event Ordering
//
// Controller events carry an observed_at timestamp and reconcile
// last-write-wins; retransmitted or delayed events older than the
// door's latest are dropped silently.
package occupancy
