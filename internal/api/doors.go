package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ostiary-io/ostiary-core/internal/audit"
	"github.com/ostiary-io/ostiary-core/internal/door"
)

// ─── Request/Response Types ────────────────────────────────────────

type createDoorRequest struct {
	ID        string        `json:"id,omitempty"`
	CabinetID string        `json:"cabinet_id"`
	Number    int           `json:"number"`
	Shared    bool          `json:"shared"`
	Endpoint  door.Endpoint `json:"endpoint"`
	PulseMs   int           `json:"pulse_ms,omitempty"`
}

type updateDoorRequest struct {
	Shared   *bool          `json:"shared,omitempty"`
	Endpoint *door.Endpoint `json:"endpoint,omitempty"`
	PulseMs  *int           `json:"pulse_ms,omitempty"`
}

// doorStatus is the hardware-focused projection returned by /doors/{id}/status.
type doorStatus struct {
	ID              string           `json:"id"`
	Status          door.Status      `json:"status"`
	LockState       door.LockState   `json:"lock_state"`
	SensorState     door.SensorState `json:"sensor_state"`
	LastEventAt     *time.Time       `json:"last_event_at,omitempty"`
	HardwareFlagged bool             `json:"hardware_flagged"`
	Outstanding     int              `json:"outstanding_credentials"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListDoors returns all doors, optionally filtered by status or cabinet.
func (s *Server) handleListDoors(w http.ResponseWriter, r *http.Request) {
	var doors []door.Door

	q := r.URL.Query()
	switch {
	case q.Get("status") != "":
		doors = s.doors.ListByStatus(door.Status(q.Get("status")))
	case q.Get("cabinet_id") != "":
		doors = s.doors.ListByCabinet(q.Get("cabinet_id"))
	default:
		doors = s.doors.List()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doors": doors,
		"count": len(doors),
	})
}

// handleDoorStats returns door counts per status. Dashboards poll this.
func (s *Server) handleDoorStats(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]int, len(door.AllStatuses()))
	flagged := 0

	for _, d := range s.doors.List() {
		stats[string(d.Status)]++
		if d.HardwareFlagged {
			flagged++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"by_status":        stats,
		"hardware_flagged": flagged,
	})
}

// handleCreateDoor registers a new door.
func (s *Server) handleCreateDoor(w http.ResponseWriter, r *http.Request) {
	var req createDoorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.CabinetID == "" {
		writeBadRequest(w, "cabinet_id is required")
		return
	}

	id := req.ID
	if id == "" {
		id = "door-" + req.CabinetID + "-" + strconv.Itoa(req.Number)
	}

	d := &door.Door{
		ID:        id,
		SiteID:    s.siteID,
		CabinetID: req.CabinetID,
		Number:    req.Number,
		Shared:    req.Shared,
		Endpoint:  req.Endpoint,
		PulseMs:   req.PulseMs,
	}

	if err := s.doors.Create(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, door.ErrDoorExists):
			writeConflict(w, "door already exists")
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("door created", "door_id", d.ID, "cabinet_id", d.CabinetID, "created_by", claims.Subject)
	s.auditLog("create", audit.EntityDoor, d.ID, claims.Subject, map[string]any{
		"cabinet_id": d.CabinetID,
		"number":     d.Number,
	})

	created, err := s.doors.Get(d.ID)
	if err != nil {
		writeJSON(w, http.StatusCreated, d)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetDoor returns a single door by ID.
func (s *Server) handleGetDoor(w http.ResponseWriter, r *http.Request) {
	d, err := s.doors.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "door not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDoorStatus returns the hardware view of a door, including how many
// pickup codes are still outstanding.
func (s *Server) handleDoorStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.doors.Get(id)
	if err != nil {
		writeNotFound(w, "door not found")
		return
	}

	outstanding, err := s.doors.Repository().CountOutstanding(r.Context(), id)
	if err != nil {
		s.logger.Error("count outstanding failed", "door_id", id, "error", err)
		writeInternalError(w, "failed to read door status")
		return
	}

	writeJSON(w, http.StatusOK, doorStatus{
		ID:              d.ID,
		Status:          d.Status,
		LockState:       d.LockState,
		SensorState:     d.SensorState,
		LastEventAt:     d.LastEventAt,
		HardwareFlagged: d.HardwareFlagged,
		Outstanding:     outstanding,
	})
}

// handleDoorMovements returns the most recent movements for a door.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
func (s *Server) handleDoorMovements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.doors.Get(id); err != nil {
		writeNotFound(w, "door not found")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 { //nolint:mnd // max page size
		limit = 200
	}

	movements, err := s.doors.Repository().ListMovements(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("list movements failed", "door_id", id, "error", err)
		writeInternalError(w, "failed to list movements")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"movements": movements,
		"count":     len(movements),
	})
}

// handleUpdateDoor modifies a door's configurable fields. Occupation state
// is owned by the engine and cannot be patched here.
func (s *Server) handleUpdateDoor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDoorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.doors.Get(id)
	if err != nil {
		writeNotFound(w, "door not found")
		return
	}

	if req.Shared != nil {
		d.Shared = *req.Shared
	}
	if req.Endpoint != nil {
		d.Endpoint = *req.Endpoint
	}
	if req.PulseMs != nil {
		d.PulseMs = *req.PulseMs
	}

	if err := s.doors.Update(r.Context(), d); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("update", audit.EntityDoor, id, claims.Subject, nil)

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDoor removes a door. Refused unless the door is AVAILABLE.
func (s *Server) handleDeleteDoor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.doors.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, door.ErrDoorNotFound):
			writeNotFound(w, "door not found")
		case errors.Is(err, door.ErrDoorUnavailable):
			writeConflict(w, "door is in use and cannot be deleted")
		default:
			s.logger.Error("delete door failed", "door_id", id, "error", err)
			writeInternalError(w, "failed to delete door")
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("door deleted", "door_id", id, "deleted_by", claims.Subject)
	s.auditLog("delete", audit.EntityDoor, id, claims.Subject, nil)

	w.WriteHeader(http.StatusNoContent)
}
