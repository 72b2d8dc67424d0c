// Package auth provides authentication and authorisation for Ostiary Core.
//
// It implements a 3-tier role model (courier → operator → admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access/refresh token rotation with family-based theft detection
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Couriers can find doors and deposit parcels. Operators additionally
// force-close problem doors, return them to service, and read the audit
// trail. Admins manage door and cabinet configuration and user accounts.
//
// Recipients are not users: they authenticate with single-use pickup
// codes handled by the occupancy engine, never with accounts here.
package auth
