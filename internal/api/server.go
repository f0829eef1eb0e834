// Package api serves the running simulation over HTTP.
// GET endpoints are public (read-only observation); POST endpoints require
// the admin bearer token. Step frames are pushed to websocket subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/ville/internal/agents"
	"github.com/talgya/ville/internal/engine"
)

const (
	maxStreamConns = 16
	streamBuffer   = 32
	writeTimeout   = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// Source is the simulation as seen by observers.
type Source interface {
	State() engine.State
	Frame() engine.Frame
	Conversation() agents.ConversationLog
}

// Pacer is the engine control surface.
type Pacer interface {
	Speed() float64
	SetSpeed(float64)
	Running() bool
	Steps() int
}

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      Source
	Eng      Pacer
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	mu       sync.Mutex
	subs     map[uint64]chan []byte
	http     *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	streamLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{name}", s.handleAgent)
	mux.HandleFunc("GET /api/v1/frame", s.handleFrame)
	mux.HandleFunc("GET /api/v1/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/v1/oracle", s.handleOracle)
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.http = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and closes every stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Publish fans a step frame out to every stream subscriber. Slow subscribers
// miss frames rather than stall the simulation.
func (s *Server) Publish(frame engine.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("encode frame", "step", frame.Step, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- data:
		default:
			slog.Debug("stream subscriber lagging, frame dropped", "sub_id", id, "step", frame.Step)
		}
	}
}

func (s *Server) subscribe() (uint64, chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) >= maxStreamConns {
		return 0, nil, false
	}
	if s.subs == nil {
		s.subs = make(map[uint64]chan []byte)
	}
	id := s.nextID.Add(1)
	ch := make(chan []byte, streamBuffer)
	s.subs[id] = ch
	return id, ch, true
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS is a comma-separated list; localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly requires the bearer token on POST; GET passes through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no VILLE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			auth := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(auth, "Bearer "); !ok || token != s.AdminKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.Sim.State()
	writeJSON(w, map[string]any{
		"run_id":        state.RunID,
		"name":          state.Name,
		"step":          state.Step,
		"time":          state.Time,
		"agents":        len(state.Agents),
		"conversations": state.Conversations,
		"speed":         s.Eng.Speed(),
		"running":       s.Eng.Running(),
		"engine_steps":  s.Eng.Steps(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.State().Agents)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, a := range s.Sim.State().Agents {
		if a.Name == name {
			writeJSON(w, a)
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Frame())
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	log := s.Sim.Conversation()
	if stamp := r.URL.Query().Get("time"); stamp != "" {
		writeJSON(w, agents.ConversationLog{stamp: log[stamp]})
		return
	}
	writeJSON(w, log)
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.State().Oracle)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleStream upgrades to a websocket and pushes every published frame,
// starting with the latest one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ch, ok := s.subscribe()
	if !ok {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	slog.Info("stream client connected", "sub_id", id)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	if latest, err := json.Marshal(s.Sim.Frame()); err == nil {
		if err := write(latest); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
				return
			}
			if err := write(b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "sub_id", id)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}
