package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostiary-io/ostiary-core/internal/audit"
	"github.com/ostiary-io/ostiary-core/internal/cabinet"
)

// ─── Request Types ─────────────────────────────────────────────────

type siteRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

type updateSiteRequest struct {
	Name     *string `json:"name,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

type createCabinetRequest struct {
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
}

type updateCabinetRequest struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// ─── Site Handlers ─────────────────────────────────────────────────

// handleGetSite returns the site record. A deployment serves one site.
func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.cabinetRepo.GetAnySite(r.Context())
	if err != nil {
		if errors.Is(err, cabinet.ErrSiteNotFound) {
			writeNotFound(w, "site not configured")
			return
		}
		s.logger.Error("get site failed", "error", err)
		writeInternalError(w, "failed to read site")
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// handleCreateSite creates the site record during commissioning.
func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if _, err := s.cabinetRepo.GetAnySite(r.Context()); err == nil {
		writeConflict(w, "site already configured")
		return
	}

	site := &cabinet.Site{
		Name:     req.Name,
		Timezone: req.Timezone,
	}
	if err := s.cabinetRepo.CreateSite(r.Context(), site); err != nil {
		if errors.Is(err, cabinet.ErrInvalidName) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("create site failed", "error", err)
		writeInternalError(w, "failed to create site")
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("create", "site", site.ID, claims.Subject, nil)

	writeJSON(w, http.StatusCreated, site)
}

// handleUpdateSite modifies the site record.
func (s *Server) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	var req updateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	site, err := s.cabinetRepo.GetAnySite(r.Context())
	if err != nil {
		writeNotFound(w, "site not configured")
		return
	}

	if req.Name != nil {
		site.Name = *req.Name
	}
	if req.Timezone != nil {
		site.Timezone = *req.Timezone
	}

	if err := s.cabinetRepo.UpdateSite(r.Context(), site); err != nil {
		if errors.Is(err, cabinet.ErrInvalidName) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("update site failed", "error", err)
		writeInternalError(w, "failed to update site")
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("update", "site", site.ID, claims.Subject, nil)

	writeJSON(w, http.StatusOK, site)
}

// ─── Cabinet Handlers ──────────────────────────────────────────────

// handleListCabinets returns all cabinets on the site.
func (s *Server) handleListCabinets(w http.ResponseWriter, r *http.Request) {
	cabinets, err := s.cabinetRepo.ListCabinets(r.Context())
	if err != nil {
		s.logger.Error("list cabinets failed", "error", err)
		writeInternalError(w, "failed to list cabinets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cabinets": cabinets,
		"count":    len(cabinets),
	})
}

// handleGetCabinet returns a single cabinet.
func (s *Server) handleGetCabinet(w http.ResponseWriter, r *http.Request) {
	c, err := s.cabinetRepo.GetCabinet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, cabinet.ErrCabinetNotFound) {
			writeNotFound(w, "cabinet not found")
			return
		}
		s.logger.Error("get cabinet failed", "error", err)
		writeInternalError(w, "failed to read cabinet")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleListCabinetDoors returns the doors in a cabinet.
func (s *Server) handleListCabinetDoors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.cabinetRepo.GetCabinet(r.Context(), id); err != nil {
		writeNotFound(w, "cabinet not found")
		return
	}

	doors := s.doors.ListByCabinet(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"doors": doors,
		"count": len(doors),
	})
}

// handleCreateCabinet adds a cabinet to the site.
func (s *Server) handleCreateCabinet(w http.ResponseWriter, r *http.Request) {
	var req createCabinetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	c := &cabinet.Cabinet{
		SiteID:   s.siteID,
		Name:     req.Name,
		Location: req.Location,
	}
	if err := s.cabinetRepo.CreateCabinet(r.Context(), c); err != nil {
		switch {
		case errors.Is(err, cabinet.ErrCabinetExists):
			writeConflict(w, "cabinet already exists")
		case errors.Is(err, cabinet.ErrInvalidName), errors.Is(err, cabinet.ErrInvalidSlug):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("create cabinet failed", "error", err)
			writeInternalError(w, "failed to create cabinet")
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("create", audit.EntityCabinet, c.ID, claims.Subject, map[string]any{
		"name": c.Name,
	})

	writeJSON(w, http.StatusCreated, c)
}

// handleUpdateCabinet modifies a cabinet.
func (s *Server) handleUpdateCabinet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateCabinetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	c, err := s.cabinetRepo.GetCabinet(r.Context(), id)
	if err != nil {
		writeNotFound(w, "cabinet not found")
		return
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Location != nil {
		c.Location = req.Location
	}

	if err := s.cabinetRepo.UpdateCabinet(r.Context(), c); err != nil {
		switch {
		case errors.Is(err, cabinet.ErrInvalidName):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("update cabinet failed", "cabinet_id", id, "error", err)
			writeInternalError(w, "failed to update cabinet")
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("update", audit.EntityCabinet, id, claims.Subject, nil)

	writeJSON(w, http.StatusOK, c)
}

// handleDeleteCabinet removes an empty cabinet.
func (s *Server) handleDeleteCabinet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.cabinetRepo.DeleteCabinet(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, cabinet.ErrCabinetNotFound):
			writeNotFound(w, "cabinet not found")
		case errors.Is(err, cabinet.ErrCabinetHasDoors):
			writeConflict(w, "cabinet has doors and cannot be deleted")
		default:
			s.logger.Error("delete cabinet failed", "cabinet_id", id, "error", err)
			writeInternalError(w, "failed to delete cabinet")
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.auditLog("delete", audit.EntityCabinet, id, claims.Subject, nil)

	w.WriteHeader(http.StatusNoContent)
}
