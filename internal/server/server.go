// Package server implements the REST surface named in spec.md §6: system
// health/info/stats, persona CRUD, preferences CRUD+reset, and chat
// session/history endpoints. Adapted from the teacher's
// internal/server/server.go — same New/mux/Start/Shutdown shape, same
// http.Server timeouts — with every brain/swarm/healthring/onboarding/bridge
// handler replaced by the handlers this spec's component set actually needs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/streamgateway/internal/config"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/persona"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/session"
)

// Server is the REST surface's HTTP listener.
type Server struct {
	cfg      *config.Config
	router   *inference.Router
	sessions *session.Manager
	personas *persona.Store
	prefs    *preferences.Store
	history  *history.Store

	mux        *http.ServeMux
	httpServer *http.Server
	startTime  time.Time
	log        *logging.Logger
}

// HealthResponse is returned by GET /api/system/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// InfoResponse is returned by GET /api/system/info.
type InfoResponse struct {
	Version string             `json:"version"`
	Uptime  string             `json:"uptime"`
	Engines []inference.Engine `json:"engines"`
}

// StatsResponse is returned by GET /api/system/stats.
type StatsResponse struct {
	EnginesCount int `json:"enginesCount"`
}

// New builds the REST surface's Server and registers every route on a fresh
// mux. Callers should run Start in its own goroutine.
func New(cfg *config.Config, router *inference.Router, sessions *session.Manager, personas *persona.Store, prefs *preferences.Store, hist *history.Store) *Server {
	s := &Server{
		cfg:       cfg,
		router:    router,
		sessions:  sessions,
		personas:  personas,
		prefs:     prefs,
		history:   hist,
		startTime: time.Now(),
		log:       logging.WithComponent("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/system/health", s.healthHandler)
	mux.HandleFunc("/api/system/info", s.infoHandler)
	mux.HandleFunc("/api/system/stats", s.statsHandler)

	mux.HandleFunc("/api/personas", s.personasCollectionHandler)
	mux.HandleFunc("/api/personas/", s.personasItemHandler)

	mux.HandleFunc("/api/preferences/", s.preferencesHandler)

	mux.HandleFunc("/api/chat/session", s.chatSessionCollectionHandler)
	mux.HandleFunc("/api/chat/session/", s.chatSessionItemHandler)
	mux.HandleFunc("/api/chat/history/", s.chatHistoryHandler)

	mux.Handle("/metrics", promhttp.Handler())

	s.mux = mux
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handle registers an additional handler (the /ws/chat upgrade endpoint) on
// the same mux and listener this server already binds, so the WebSocket
// channel and the REST surface share one process and one port.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.log.Info("REST server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, InfoResponse{
		Version: "1.0.0",
		Uptime:  time.Since(s.startTime).String(),
		Engines: s.router.ListEngines(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		EnginesCount: len(s.router.ListEngines()),
	})
}

// personasCollectionHandler serves /api/personas: GET lists every persona,
// POST creates (or overwrites) one.
func (s *Server) personasCollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.personas.List())
	case http.MethodPost:
		var p persona.Persona
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := s.personas.Save(p); err != nil {
			s.log.Warn("persona save failed", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// personasItemHandler serves /api/personas/{id}: GET fetches, PUT updates,
// DELETE removes.
func (s *Server) personasItemHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/personas/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "persona id required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, ok := s.personas.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "persona not found")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var p persona.Persona
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		p.ID = id
		if err := s.personas.Save(p); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := s.personas.Delete(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// preferencesHandler serves /api/preferences/{userId} and
// /api/preferences/{userId}/reset.
func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/preferences/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	if userID, ok := strings.CutSuffix(path, "/reset"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.prefs.Reset(userID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}

	userID := path
	switch r.Method {
	case http.MethodGet:
		p, err := s.prefs.Load(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPost, http.MethodPut:
		var p preferences.UserPreferences
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := s.prefs.Save(userID, &p); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// chatSessionCollectionHandler serves /api/chat/session: GET lists every
// session with persisted history.
func (s *Server) chatSessionCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ids, err := s.history.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// chatSessionItemHandler serves /api/chat/session/{id}: GET fetches a
// session's live registry entry if connected, DELETE drops its history.
func (s *Server) chatSessionItemHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/chat/session/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		sess, ok := s.sessions.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        sess.ID,
			"userId":    sess.UserID,
			"personaId": sess.PersonaID,
			"createdAt": sess.CreatedAt,
		})
	case http.MethodDelete:
		s.sessions.Remove(id)
		if err := s.history.Delete(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// chatHistoryHandler serves GET /api/chat/history/{sessionId}.
func (s *Server) chatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/chat/history/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	entries, err := s.history.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
