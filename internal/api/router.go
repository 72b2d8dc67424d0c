package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostiary-io/ostiary-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required; refresh/logout carry their own token)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		// Controller-facing endpoints (HMAC credential, not JWT)
		r.Route("/controllers", func(r chi.Router) {
			r.Get("/{id}/commands", s.handleFetchCommands)
			r.Post("/commands/{id}/result", s.handleCommandResult)
		})
		r.Post("/hardware/events", s.handleHardwareEvent)

		// WebSocket upgrade. Browsers cannot set an Authorization header
		// here; auth is a single-use ticket from POST /auth/ws-ticket,
		// validated in the handler.
		r.Get("/ws", s.handleWebSocket)

		// Staff routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			// WS ticket requires authentication: the caller must be logged
			// in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Door endpoints
			r.Route("/doors", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDoorRead)).Get("/", s.handleListDoors)
				r.With(s.requirePermission(auth.PermDoorRead)).Get("/stats", s.handleDoorStats)
				r.With(s.requirePermission(auth.PermDoorConfigure)).Post("/", s.handleCreateDoor)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDoorRead)).Get("/", s.handleGetDoor)
					r.With(s.requirePermission(auth.PermDoorRead)).Get("/status", s.handleDoorStatus)
					r.With(s.requirePermission(auth.PermDoorRead)).Get("/movements", s.handleDoorMovements)
					r.With(s.requirePermission(auth.PermDoorConfigure)).Patch("/", s.handleUpdateDoor)
					r.With(s.requirePermission(auth.PermDoorConfigure)).Delete("/", s.handleDeleteDoor)

					r.With(s.requirePermission(auth.PermDoorOccupy)).Post("/occupy", s.handleOccupy)
					r.With(s.requirePermission(auth.PermDoorOverride)).Post("/cancel", s.handleCancel)
					r.With(s.requirePermission(auth.PermDoorOverride)).Post("/reactivate", s.handleReactivate)
				})
			})

			// Credential validation (pickup kiosk)
			r.With(s.requirePermission(auth.PermCredentialValidate)).
				Post("/credentials/validate", s.handleValidateCredential)

			// Site and cabinet endpoints
			r.Get("/site", s.handleGetSite)
			r.With(s.requirePermission(auth.PermCabinetManage)).Post("/site", s.handleCreateSite)
			r.With(s.requirePermission(auth.PermCabinetManage)).Patch("/site", s.handleUpdateSite)

			r.Route("/cabinets", func(r chi.Router) {
				r.Get("/", s.handleListCabinets)
				r.Get("/{id}", s.handleGetCabinet)
				r.With(s.requirePermission(auth.PermDoorRead)).Get("/{id}/doors", s.handleListCabinetDoors)
				r.With(s.requirePermission(auth.PermCabinetManage)).Post("/", s.handleCreateCabinet)
				r.With(s.requirePermission(auth.PermCabinetManage)).Patch("/{id}", s.handleUpdateCabinet)
				r.With(s.requirePermission(auth.PermCabinetManage)).Delete("/{id}", s.handleDeleteCabinet)
			})

			// Audit trail
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)

			// User management
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))

				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
					r.Get("/sessions", s.handleListUserSessions)
					r.Delete("/sessions", s.handleRevokeUserSessions)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
