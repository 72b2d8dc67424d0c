package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostiary-io/ostiary-core/internal/audit"
	"github.com/ostiary-io/ostiary-core/internal/door"
)

// ─── Request/Response Types ────────────────────────────────────────

type occupyRequest struct {
	Recipients []door.Recipient `json:"recipients"`
}

type occupyResponse struct {
	Door            *door.Door        `json:"door"`
	Credentials     []door.Credential `json:"credentials"`
	HardwareWarning bool              `json:"hardware_warning,omitempty"`
}

type validateRequest struct {
	Code string `json:"code"`
}

type validateResponse struct {
	Door            *door.Door     `json:"door"`
	Recipient       door.Recipient `json:"recipient"`
	HardwareWarning bool           `json:"hardware_warning,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleOccupy places parcels in a door and issues one pickup code per
// distinct recipient.
func (s *Server) handleOccupy(w http.ResponseWriter, r *http.Request) {
	doorID := chi.URLParam(r, "id")

	var req occupyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	claims := claimsFromContext(r.Context())

	result, err := s.engine.Occupy(r.Context(), doorID, req.Recipients, claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, door.ErrDoorNotFound):
			writeNotFound(w, "door not found")
		case errors.Is(err, door.ErrDoorUnavailable):
			writeConflict(w, err.Error())
		case errors.Is(err, door.ErrEmptyRecipients):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("occupy failed", "door_id", doorID, "error", err)
			writeInternalError(w, "failed to occupy door")
		}
		return
	}

	s.auditLog("occupy", audit.EntityDoor, doorID, claims.Subject, map[string]any{
		"recipients":       len(result.Credentials),
		"hardware_warning": result.HardwareWarning,
	})

	writeJSON(w, http.StatusCreated, occupyResponse{
		Door:            result.Door,
		Credentials:     result.Credentials,
		HardwareWarning: result.HardwareWarning,
	})
}

// handleValidateCredential consumes a pickup code and unlocks its door.
//
// Each credential failure mode maps to its own status so kiosk clients
// can show the right message: 404 unknown, 410 expired, 409 already used.
func (s *Server) handleValidateCredential(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	claims := claimsFromContext(r.Context())

	result, err := s.engine.Validate(r.Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, door.ErrCredentialNotFound):
			writeNotFound(w, "credential not found")
		case errors.Is(err, door.ErrCredentialExpired):
			writeError(w, http.StatusGone, ErrCodeGone, "credential expired")
		case errors.Is(err, door.ErrCredentialAlreadyUsed):
			writeConflict(w, "credential already used")
		default:
			s.logger.Error("credential validation failed", "error", err)
			writeInternalError(w, "failed to validate credential")
		}
		return
	}

	s.auditLog("validate", audit.EntityCredential, result.Door.ID, claims.Subject, map[string]any{
		"block":     result.Recipient.Block,
		"apartment": result.Recipient.Apartment,
	})

	writeJSON(w, http.StatusOK, validateResponse{
		Door:            result.Door,
		Recipient:       result.Recipient,
		HardwareWarning: result.HardwareWarning,
	})
}

// handleCancel force-closes a door, invalidating outstanding pickup codes.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	doorID := chi.URLParam(r, "id")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		writeBadRequest(w, "reason is required")
		return
	}

	claims := claimsFromContext(r.Context())

	d, err := s.engine.Cancel(r.Context(), doorID, req.Reason, claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, door.ErrDoorNotFound):
			writeNotFound(w, "door not found")
		case errors.Is(err, door.ErrInvalidTransition):
			writeConflict(w, err.Error())
		default:
			s.logger.Error("cancel failed", "door_id", doorID, "error", err)
			writeInternalError(w, "failed to cancel occupation")
		}
		return
	}

	s.auditLog("cancel", audit.EntityDoor, doorID, claims.Subject, map[string]any{
		"reason": req.Reason,
	})

	writeJSON(w, http.StatusOK, d)
}

// handleReactivate returns a force-closed door to service.
func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	doorID := chi.URLParam(r, "id")

	claims := claimsFromContext(r.Context())

	d, err := s.engine.Reactivate(r.Context(), doorID, claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, door.ErrDoorNotFound):
			writeNotFound(w, "door not found")
		case errors.Is(err, door.ErrInvalidTransition), errors.Is(err, door.ErrNotClosed):
			writeConflict(w, err.Error())
		default:
			s.logger.Error("reactivate failed", "door_id", doorID, "error", err)
			writeInternalError(w, "failed to reactivate door")
		}
		return
	}

	s.auditLog("reactivate", audit.EntityDoor, doorID, claims.Subject, nil)

	writeJSON(w, http.StatusOK, d)
}
