// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/parlor-chat/parlor/gateway"
	"github.com/parlor-chat/parlor/hub"
	"github.com/parlor-chat/parlor/session"
	"github.com/parlor-chat/parlor/vault"
)

//go:embed static/index.html
var staticFiles embed.FS

// Config wires the server to the bridge components.
type Config struct {
	Vault   *vault.Vault
	Machine *session.Machine
	Hub     *hub.Hub
	Gateway *gateway.Gateway

	// Username is the account to log in as when the vault is sealed
	// for the first time and the login request doesn't name one.
	Username string

	// AuthHeader and AuthValue, when both set, require every request
	// to carry the named header with exactly that value. This is for
	// deployments behind an authenticating reverse proxy.
	AuthHeader string
	AuthValue  string

	Logger *slog.Logger
}

// Server handles the browser-facing API. Create with NewServer; the
// zero value is not usable.
type Server struct {
	vault    *vault.Vault
	machine  *session.Machine
	hub      *hub.Hub
	gateway  *gateway.Gateway
	username string

	authHeader string
	authValue  string

	logger  *slog.Logger
	handler http.Handler

	// loginMu serializes login and logout so two requests can't race
	// a vault seal against an unlock or interleave start/stop.
	loginMu sync.Mutex
}

func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	server := &Server{
		vault:      config.Vault,
		machine:    config.Machine,
		hub:        config.Hub,
		gateway:    config.Gateway,
		username:   config.Username,
		authHeader: config.AuthHeader,
		authValue:  config.AuthValue,
		logger:     config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.handleIndex)
	mux.HandleFunc("GET /api/history", server.handleHistory)
	mux.HandleFunc("GET /api/stream", server.handleStream)
	mux.HandleFunc("GET /api/ws", server.handleWebSocket)
	mux.HandleFunc("POST /api/messages", server.handleMessages)
	mux.HandleFunc("POST /api/login", server.handleLogin)
	mux.HandleFunc("POST /api/logout", server.handleLogout)
	mux.HandleFunc("GET /api/status", server.handleStatus)
	server.handler = server.requireAuth(mux)

	return server
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// requireAuth enforces reverse-proxy header authentication when
// configured. The comparison is constant-time; mismatch and absence
// are indistinguishable to the caller.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.authHeader == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(s.authHeader)
		if subtle.ConstantTimeCompare([]byte(header), []byte(s.authValue)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}
