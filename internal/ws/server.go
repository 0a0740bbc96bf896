package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/export"
	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
)

const maxObservationBytes = 4 << 20

type Server struct {
	engine      *monitor.Engine
	broadcaster *Broadcaster
	access      atomic.Pointer[access]
	procStats   func() (ProcessStats, error)
	startedAt   time.Time
}

// access is the auth token and origin allow-list, swapped as a whole on
// config reload.
type access struct {
	origins map[string]bool
	hosts   map[string]bool
	token   string
}

func newAccess(allowedOrigins []string, authToken string) *access {
	a := &access{
		origins: make(map[string]bool),
		hosts:   make(map[string]bool),
		token:   authToken,
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		a.origins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			a.hosts[parsed.Host] = true
		}
	}
	return a
}

func NewServer(engine *monitor.Engine, broadcaster *Broadcaster, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		engine:      engine,
		broadcaster: broadcaster,
		procStats:   readProcessStats,
		startedAt:   time.Now(),
	}
	s.access.Store(newAccess(allowedOrigins, authToken))
	return s
}

// SetAccess replaces the auth token and allowed origins for new requests.
// Connected WebSocket clients are not re-checked.
func (s *Server) SetAccess(allowedOrigins []string, authToken string) {
	s.access.Store(newAccess(allowedOrigins, authToken))
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/start", s.handleStart)
	mux.HandleFunc("/api/session/stop", s.handleStop)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/export.csv", s.handleExportCSV)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/observe/", s.handleObserve)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// Handler returns the routed API wrapped with security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("[ws] rejecting %s: %v", r.RemoteAddr, err)
		if data, mErr := s.broadcaster.marshal(MsgError, s.broadcaster.seq.Load(), ErrorPayload{Message: err.Error()}); mErr == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("[ws] client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("[ws] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.broadcaster.FilterSnapshot(s.engine.Snapshot()))
}

type startRequest struct {
	CandidateName string `json:"candidateName"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}

	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
			return
		}
	}

	sess, err := s.engine.Start(req.CandidateName)
	switch {
	case errors.Is(err, monitor.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, s.broadcaster.privacyFilter().ApplySession(sess))
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}

	sess, err := s.engine.Stop()
	switch {
	case errors.Is(err, monitor.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, s.broadcaster.privacyFilter().ApplySession(sess))
	}
}

// handleEvents serves GET /api/events?since=N, the log entries after
// sequence number N. Clients use it to catch up after a missed batch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid since %q", v), http.StatusBadRequest)
			return
		}
		since = n
	}

	sess, counters, events := s.engine.EventsSince(since)
	payload := EventsPayload{Events: []session.Event{}, Counters: counters}
	var name string
	if sess != nil {
		payload.SessionID = sess.ID
		name = sess.CandidateName
	}
	filter := s.broadcaster.privacyFilter()
	for _, ev := range events {
		if masked, ok := filter.MaskEvent(ev, name); ok {
			payload.Events = append(payload.Events, masked)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	snap := s.engine.Snapshot()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(snap, "csv")))
	if err := export.WriteCSV(w, snap); err != nil {
		log.Printf("[ws] export csv: %v", err)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	snap := s.engine.Snapshot()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", export.FileName(snap, "md")))
	io.WriteString(w, export.Report(snap, time.Local))
}

// ObserveRequest is the body of POST /api/observe/{faces|objects|audio}.
// Only the field matching the path is read. SessionID may be empty.
type ObserveRequest struct {
	SessionID  string                   `json:"sessionId,omitempty"`
	Faces      detect.FaceObservation   `json:"faces,omitempty"`
	Detections detect.ObjectObservation `json:"detections,omitempty"`
	Audio      *detect.AudioSample      `json:"audio,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}

	signal := detect.Signal(strings.TrimPrefix(r.URL.Path, "/api/observe/"))
	var req ObserveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxObservationBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	var err error
	switch signal {
	case detect.SignalFaces:
		err = s.engine.ObserveFaces(req.SessionID, req.Faces)
	case detect.SignalObjects:
		err = s.engine.ObserveObjects(req.SessionID, req.Detections)
	case detect.SignalAudio:
		if req.Audio == nil {
			req.Audio = &detect.AudioSample{}
		}
		err = s.engine.ObserveAudio(req.SessionID, *req.Audio)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var malformed *detect.MalformedObservationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, monitor.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &malformed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config().Sound)
}

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	State   string                 `json:"state"`
	Uptime  string                 `json:"uptime"`
	Clients int                    `json:"clients"`
	Process *ProcessStats          `json:"process,omitempty"`
	Signals []monitor.SignalHealth `json:"signals"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{
		State:   s.engine.State().String(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Clients: s.broadcaster.ClientCount(),
		Signals: s.engine.Health(),
	}
	if stats, err := s.procStats(); err != nil {
		log.Printf("[ws] process stats: %v", err)
	} else {
		resp.Process = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// guard checks auth and method, writing the error response on failure.
func (s *Server) guard(w http.ResponseWriter, r *http.Request, method string) bool {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ws] encode response: %v", err)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	token := s.access.Load().token
	if token == "" {
		return true
	}

	if r.URL.Query().Get("token") == token {
		return true
	}

	if r.Header.Get("X-Examwatch-Token") == token {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == token {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	a := s.access.Load()
	if len(a.origins) > 0 {
		if a.origins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return a.hosts[parsed.Host]
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

	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return host == "::1"
}

const shutdownTimeout = 5 * time.Second

// ListenAndServe serves handler on host:port until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
