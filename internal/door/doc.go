// Package door provides the Door Registry for Ostiary Core.
//
// The Door Registry is the authoritative catalogue of every parcel door
// in an Ostiary installation. It owns the door lifecycle state machine,
// per-recipient retrieval credentials, and the movement audit trail, and
// serves queries for the REST API and the occupancy engine.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                           Door Registry                              │
//	│                                                                      │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌────────────────┐ │
//	│  │     Registry     │    │    Repository    │    │  Transitions   │ │
//	│  │   (registry.go)  │───▶│  (repository.go) │    │(transitions.go)│ │
//	│  │                  │    │                  │    │                │ │
//	│  │ • CRUD ops       │    │ • SQLite queries │    │ • State machine│ │
//	│  │ • In-memory cache│    │ • Transactions   │    │ • Legal moves  │ │
//	│  │ • Per-door locks │    │ • CAS consume    │    │                │ │
//	│  └──────────────────┘    └──────────────────┘    └────────────────┘ │
//	│           │                       │                                  │
//	└───────────│───────────────────────│──────────────────────────────────┘
//	            │                       │
//	            ▼                       ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│  Occupancy Engine    │   │   SQLite Database    │
//	│  • Occupy/Validate   │   │ (doors, credentials, │
//	│  • Cancel/Reconcile  │   │  movements tables)   │
//	└──────────────────────┘   └──────────────────────┘
//
// # Door Lifecycle
//
// A door is always in exactly one of four statuses:
//
//	AVAILABLE ──▶ OCCUPIED ──▶ PENDING_RETRIEVAL ──▶ AVAILABLE
//	                  │                 │
//	                  └──▶ FORCE_CLOSED ◀┘──▶ AVAILABLE
//
// AVAILABLE doors hold no parcels, no recipients, and no occupation
// timestamp. OCCUPIED doors hold parcels for one or more recipients,
// each of whom has a single-use retrieval credential. A door becomes
// PENDING_RETRIEVAL when the last outstanding credential is consumed,
// and returns to AVAILABLE once the door sensor confirms it is shut.
// FORCE_CLOSED is the administrative cancel state.
//
// # Key Types
//
//   - Door: A physical locker door with status, recipients, and hardware state
//   - Recipient: A (block, apartment) pair with a parcel quantity
//   - Credential: A single-use retrieval code scoped to one recipient
//   - Movement: An audit record of an occupy, release, or cancel
//
// # Usage
//
//	// Create repository and registry
//	repo := door.NewSQLiteRepository(db)
//	registry := door.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Load doors into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Serialise a state change against concurrent callers
//	unlock := registry.LockDoor(doorID)
//	defer unlock()
//
//	d, err := registry.Get(doorID)
//
// # Thread Safety
//
// Registry reads return deep copies and are safe for concurrent use.
// State-changing occupancy operations must hold the per-door lock from
// LockDoor across the whole read-validate-persist cycle.
package door
