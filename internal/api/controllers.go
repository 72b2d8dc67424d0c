package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
	"github.com/ostiary-io/ostiary-core/internal/occupancy"
)

// Controller endpoints serve door controllers that cannot hold an MQTT
// session, typically QUEUED-mode boards behind restrictive networks.
// They authenticate with the controller polling token, not a user JWT;
// controllers are firmware, not staff.

// controllerAuth extracts and verifies the controller token from the
// Authorization header or the token query parameter.
func (s *Server) controllerAuth(r *http.Request, controllerID string) bool {
	if s.tokens == nil || controllerID == "" {
		return false
	}

	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = t
		}
	}
	if token == "" {
		return false
	}

	return s.tokens.VerifyController(controllerID, token)
}

// handleFetchCommands returns pending unlock commands for a controller
// and marks them delivered. Controllers poll this on their cycle.
func (s *Server) handleFetchCommands(w http.ResponseWriter, r *http.Request) {
	controllerID := chi.URLParam(r, "id")

	if !s.controllerAuth(r, controllerID) {
		writeUnauthorized(w, "invalid controller token")
		return
	}

	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"commands": []hardware.Command{}, "count": 0})
		return
	}

	commands, err := s.queue.FetchPending(r.Context(), controllerID)
	if err != nil {
		s.logger.Error("fetch pending commands failed", "controller_id", controllerID, "error", err)
		writeInternalError(w, "failed to fetch commands")
		return
	}

	if len(commands) > 0 {
		s.logger.Debug("commands delivered", "controller_id", controllerID, "count", len(commands))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// handleCommandResult settles a previously fetched command.
//
// The command is looked up first so the result can be verified against
// the controller the command was addressed to; a controller cannot
// settle another controller's commands.
func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "id")

	if s.queue == nil {
		writeNotFound(w, "command not found")
		return
	}

	cmd, err := s.queue.Get(r.Context(), commandID)
	if err != nil {
		if errors.Is(err, hardware.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("command lookup failed", "command_id", commandID, "error", err)
		writeInternalError(w, "failed to look up command")
		return
	}

	if !s.controllerAuth(r, cmd.ControllerID) {
		writeUnauthorized(w, "invalid controller token")
		return
	}

	var res occupancy.CommandResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	res.CommandID = commandID

	if err := s.engine.HandleCommandResult(r.Context(), res); err != nil {
		if errors.Is(err, hardware.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("command result failed", "command_id", commandID, "error", err)
		writeInternalError(w, "failed to record command result")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// hardwareEventRequest is one controller observation posted over HTTP.
// MQTT-capable controllers publish the same shape on their event topic;
// this endpoint exists for polling controllers without a broker session.
type hardwareEventRequest struct {
	ControllerID string `json:"controller_id"`
	occupancy.Event
}

// handleHardwareEvent reconciles a sensor observation posted by a
// polling controller.
func (s *Server) handleHardwareEvent(w http.ResponseWriter, r *http.Request) {
	var req hardwareEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !s.controllerAuth(r, req.ControllerID) {
		writeUnauthorized(w, "invalid controller token")
		return
	}

	if req.DoorID == "" || req.ObservedAt.IsZero() {
		writeBadRequest(w, "door_id and observed_at are required")
		return
	}

	if err := s.engine.HandleEvent(r.Context(), req.Event); err != nil {
		if errors.Is(err, door.ErrDoorNotFound) {
			writeNotFound(w, "door not found")
			return
		}
		s.logger.Error("hardware event failed", "door_id", req.DoorID, "error", err)
		writeInternalError(w, "failed to reconcile event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
