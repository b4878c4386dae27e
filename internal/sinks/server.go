package sinks

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/juki-j/claudeminer/internal/cleaner"
	"github.com/juki-j/claudeminer/internal/session"
)

// KillFunc terminates pid. cmd/claudeminerd wires KillPID: SIGKILL on
// POSIX, `taskkill /F` on Windows.
type KillFunc func(pid uint32) error

// Server exposes the §6 command surface over HTTP: a WebSocket upgrade for
// the lifecycle broadcast, list_sessions, and kill_miner. Adapted from
// ws/server.go's routing and origin/token-auth pattern, repointed at the
// lifecycle Broadcaster and the cleaner's ForceCleanup event instead of the
// teacher's gamification/tmux-focus surface.
type Server struct {
	store          *session.Store
	broadcaster    *Broadcaster
	cleanupEvents  chan<- cleaner.CleanupEvent
	kill           KillFunc
	notifier       Notifier
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	logger         *log.Logger
}

func NewServer(store *session.Store, broadcaster *Broadcaster, cleanupEvents chan<- cleaner.CleanupEvent, kill KillFunc, notifier Notifier, allowedOrigins []string, authToken string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		store:          store,
		broadcaster:    broadcaster,
		cleanupEvents:  cleanupEvents,
		kill:           kill,
		notifier:       notifier,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		logger:         logger,
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleListSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[sinks] ws upgrade error: %v", err)
		return
	}

	s.logger.Printf("[sinks] client connected: %s", r.RemoteAddr)
	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		return
	}

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Printf("[sinks] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleListSessions implements list_sessions: the full, filtered session
// list as the §6 Miner shape.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var views []MinerView
	for _, sess := range s.store.GetAll() {
		if !IsListable(sess) {
			continue
		}
		views = append(views, NewMinerView(sess, s.broadcaster.memFor(sess.PID)))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// handleSessionRoutes parses /api/sessions/{id}/kill.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "kill" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	pidStr, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	s.handleKillMiner(w, r, pidStr)
}

// handleKillMiner implements kill_miner(pid): SIGKILL (POSIX) or
// `taskkill /F` (Windows) the target process, then force every session
// bound to that pid out of the store regardless of kill outcome, matching
// §6's "on success, triggers the zombie killed notification" — failure to
// kill still reports an error to the caller without leaving the session
// record behind.
func (s *Server) handleKillMiner(w http.ResponseWriter, r *http.Request, pidStr string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pid, err := strconv.ParseUint(pidStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	var matched []string
	for _, sess := range s.store.GetAll() {
		if sess.PID == uint32(pid) {
			matched = append(matched, sess.SessionID)
		}
	}
	if len(matched) == 0 {
		http.Error(w, "no session for pid", http.StatusNotFound)
		return
	}

	killErr := error(nil)
	if s.kill != nil {
		killErr = s.kill(uint32(pid))
	}

	for _, sessionID := range matched {
		select {
		case s.cleanupEvents <- cleaner.ForceCleanup{SessionID: sessionID}:
		default:
			s.logger.Printf("[sinks] kill_miner: cleanup channel full, session %s may linger", sessionID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if killErr != nil {
		s.logger.Printf("[sinks] kill_miner: failed to kill pid %d: %v", pid, killErr)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"error": killErr.Error()})
		return
	}
	if s.notifier != nil {
		for _, sessionID := range matched {
			s.notifier.ZombieKilled(sessionID, uint32(pid))
		}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"result": fmt.Sprintf("pid %d killed", pid)})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Claudeminer-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

// ListenAndServe starts the HTTP/WS server on host:port.
func ListenAndServe(host string, port int, mux *http.ServeMux, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	logger.Printf("[sinks] listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
