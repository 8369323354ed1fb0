// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parlor-chat/parlor/gateway"
	"github.com/parlor-chat/parlor/hub"
	"github.com/parlor-chat/parlor/lib/secret"
	"github.com/parlor-chat/parlor/messaging"
	"github.com/parlor-chat/parlor/session"
	"github.com/parlor-chat/parlor/vault"
)

// maxRequestBody caps API request bodies. The largest legitimate
// payload is a chat message.
const maxRequestBody = 64 << 10

type loginRequest struct {
	Passphrase string `json:"passphrase"`

	// Username and Password are only consulted on first run, when the
	// vault has no record yet. Username falls back to the configured
	// account.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Phase     string `json:"phase"`
	Room      string `json:"room,omitempty"`
	Connected bool   `json:"connected"`
	FirstRun  bool   `json:"first_run"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.machine.Snapshot()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Phase:     string(snapshot.Phase),
		Room:      snapshot.RoomID.String(),
		Connected: snapshot.Phase == session.PhaseActive,
		FirstRun:  !s.vault.Exists(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.hub.History()
	if history == nil {
		history = []hub.Event{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var request messageRequest
	if !s.decode(w, r, &request) {
		return
	}

	result := s.gateway.Send(r.Context(), request.Message)
	if result.OK {
		s.writeJSON(w, http.StatusOK, apiResponse{Success: true})
		return
	}

	status := http.StatusBadGateway
	switch result.Code {
	case gateway.CodeEmptyMessage:
		status = http.StatusBadRequest
	case gateway.CodeNotConnected:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, apiResponse{Error: result.Message})
}

// handleLogin unlocks the vault and starts the session. On first run
// the request carries the account credentials instead; they are sealed
// only after the homeserver accepts them. Login and logout are
// serialized so a seal can't race a concurrent unlock.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if !s.decode(w, r, &request) {
		return
	}
	if request.Passphrase == "" {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "passphrase is required"})
		return
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	passphrase, err := secret.NewFromString(request.Passphrase)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "internal error"})
		return
	}
	defer passphrase.Close()

	var username string
	var password *secret.Buffer
	firstRun := !s.vault.Exists()
	if firstRun {
		if request.Password == "" {
			s.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "first run: password is required"})
			return
		}
		username = request.Username
		if username == "" {
			username = s.username
		}
		if username == "" {
			s.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "first run: username is required"})
			return
		}
		password, err = secret.NewFromString(request.Password)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "internal error"})
			return
		}
	} else {
		username, password, err = s.vault.UnlockCredentials(passphrase)
		if err != nil {
			if errors.Is(err, vault.ErrWrongPassphrase) {
				s.writeJSON(w, http.StatusUnauthorized, apiResponse{Error: "wrong passphrase"})
				return
			}
			s.logger.Error("vault unlock failed", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "internal error"})
			return
		}
	}
	defer password.Close()

	if err := s.machine.Start(r.Context(), username, password); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			s.writeJSON(w, http.StatusConflict, apiResponse{Error: "session already active"})
		case messaging.IsMatrixError(err, messaging.ErrCodeForbidden):
			s.writeJSON(w, http.StatusUnauthorized, apiResponse{Error: "login rejected by homeserver"})
		default:
			s.logger.Error("session start failed", "error", err)
			s.writeJSON(w, http.StatusBadGateway, apiResponse{Error: "could not connect"})
		}
		return
	}

	// Seal only once the homeserver has accepted the credentials, so
	// a mistyped first-run password never becomes the stored record.
	if firstRun {
		if err := s.vault.SealCredentials(username, password, passphrase); err != nil {
			s.logger.Error("sealing credentials failed", "error", err)
			if stopErr := s.machine.Stop(r.Context()); stopErr != nil {
				s.logger.Error("session stop failed", "error", stopErr)
			}
			s.writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "could not store credentials"})
			return
		}
	}

	// A previous session may have died on a fatal sync error without
	// passing through logout. Clear its history before pumping the new
	// session so old and new sequence numbers never interleave.
	s.hub.Reset()
	go s.hub.Pump(s.machine.Events())
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	if err := s.machine.Stop(r.Context()); err != nil {
		s.logger.Error("session stop failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "internal error"})
		return
	}
	s.hub.Reset()
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true})
}
