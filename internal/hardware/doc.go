// Package hardware delivers unlock commands to door controllers.
//
// Controllers come in two shapes. DIRECT controllers expose an HTTP
// endpoint on the locker LAN and Ostiary calls them; QUEUED controllers
// sit behind NAT or flaky links and poll Ostiary for work instead. The
// Door's endpoint selects the mode; everything above the dispatcher is
// mode-blind.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                        Dispatcher                           │
//	│                                                             │
//	│   DIRECT                          QUEUED                    │
//	│   GET {url}/open?door=N           Queue.Enqueue(cmd)        │
//	│       &token=T&pulse_ms=P              │                    │
//	│        │                               ▼                    │
//	│        ▼                      hardware_commands table       │
//	│   controller answers                   │                    │
//	│   within DirectTimeout                 ▼                    │
//	│                              controller polls               │
//	│                              GET /pending-commands          │
//	│                              POST /command-result           │
//	└────────────────────────────────────────────────────────────┘
//
// # Tokens
//
// Every command carries an HMAC token derived from the shared secret.
// Static mode (the default) produces a deterministic tag per door that
// minimal firmware can store and compare. Timestamped mode issues
// short-lived signed tokens for controllers with a trustworthy clock.
//
// # Failure Handling
//
// Dispatch outcomes are advisory. A failed or timed-out dispatch flags
// the door for operator attention but never rolls back the occupancy
// state change that triggered it; the parcel is already in the door.
package hardware
