// Package cabinet provides the site and cabinet hierarchy for Ostiary.
//
// It defines the spatial model: a Site contains Cabinets (banks of
// locker doors), and doors in the door package reference their cabinet.
// Cabinet listing drives the kiosk UI's door picker.
//
// The package provides a Repository interface with a SQLite
// implementation. A cabinet cannot be deleted while doors reference it.
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use from multiple goroutines
// (SQLite WAL mode + connection pooling).
package cabinet
