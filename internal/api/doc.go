// Package api implements the HTTP REST API and WebSocket server for Ostiary Core.
//
// This package provides:
//   - REST endpoints for door occupation, credential validation, and configuration
//   - Controller-facing endpoints for command polling and telemetry webhooks
//   - WebSocket hub for real-time door state broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, permissions)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between clients (courier apps, concierge dashboards,
// pickup kiosks) and the occupancy engine. Deposits and retrievals flow
// through the engine, which dispatches unlock commands to door controllers;
// resulting state changes are broadcast to WebSocket subscribers and
// published on the MQTT bus.
//
// Door controllers that cannot receive MQTT use the HTTP surface instead:
// QUEUED controllers poll /controllers/{id}/commands and report outcomes to
// /controllers/commands/{id}/result, and sites without a broker can push
// sensor telemetry to /hardware/events.
//
// # Security
//
// Staff authenticate with username/password and receive a short-lived JWT
// plus a rotating refresh token. Route access is gated per permission, not
// per role, so the role model can grow without touching the router.
// WebSocket connections use single-use tickets to keep tokens out of URLs.
// Controller endpoints authenticate with a derived HMAC credential.
package api
