// Package web exposes a small status and control surface over HTTP: a health
// probe, the last rendered canvas, the merged event list and a manual render
// trigger.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"inkcal/internal/battery"
	"inkcal/internal/config"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
	"inkcal/internal/pipeline"
)

// batteryTTL bounds how often the UPS is polled over I2C.
const batteryTTL = 30 * time.Second

// Server serves the status endpoints. All endpoints except /health honor the
// configured basic auth.
type Server struct {
	cfg    *config.Config
	runner *pipeline.Runner

	// bat is optional; without it /api/battery reports 404.
	bat battery.Reader

	batMu     sync.Mutex
	batCached battery.Status
	batAt     time.Time

	httpServer *http.Server
}

func NewServer(cfg *config.Config, runner *pipeline.Runner, bat battery.Reader) *Server {
	s := &Server{cfg: cfg, runner: runner, bat: bat}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/preview.png", s.auth(s.handlePreview))
	mux.HandleFunc("/api/events", s.auth(s.handleEvents))
	mux.HandleFunc("/api/render", s.auth(s.handleRender))
	mux.HandleFunc("/api/battery", s.auth(s.handleBattery))

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	applog.Info("status server listening", "addr", s.cfg.Listen)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// auth wraps a handler with HTTP basic auth when credentials are configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	ba := s.cfg.BasicAuth
	if ba == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(ba.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(ba.Password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="inkcal"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePreview serves the last published canvas. 404 until the first
// successful render cycle.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.runner.LastResult(); !ok {
		http.Error(w, "no render yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.cfg.CachePath)
}

type apiEvent struct {
	Source string    `json:"source"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day,omitempty"`
}

type apiWarning struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type eventsResponse struct {
	RenderedAt time.Time    `json:"rendered_at"`
	Today      []apiEvent   `json:"today"`
	Tomorrow   []apiEvent   `json:"tomorrow"`
	Warnings   []apiWarning `json:"warnings"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	res, renderedAt, ok := s.runner.LastResult()
	if !ok {
		http.Error(w, "no render yet", http.StatusNotFound)
		return
	}

	resp := eventsResponse{
		RenderedAt: renderedAt,
		Today:      toAPIEvents(res.Today),
		Tomorrow:   toAPIEvents(res.Tomorrow),
		Warnings:   []apiWarning{},
	}
	for _, warn := range res.Warnings {
		resp.Warnings = append(resp.Warnings, apiWarning{Source: warn.SourceID, Error: warn.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAPIEvents(events []model.Event) []apiEvent {
	out := make([]apiEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, apiEvent{
			Source: ev.SourceID,
			Title:  ev.Title,
			Start:  ev.Start,
			End:    ev.End,
			AllDay: ev.AllDay,
		})
	}
	return out
}

// handleRender triggers a refresh without waiting for it; bursts coalesce
// inside the runner.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		if err := s.runner.RenderNow(context.Background()); err != nil {
			applog.Error("triggered render failed", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "render scheduled"})
}

func (s *Server) handleBattery(w http.ResponseWriter, _ *http.Request) {
	if s.bat == nil {
		http.Error(w, "no battery reader configured", http.StatusNotFound)
		return
	}

	s.batMu.Lock()
	defer s.batMu.Unlock()

	if time.Since(s.batAt) > batteryTTL {
		st, err := s.bat.Read()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.batCached = st
		s.batAt = time.Now()
	}
	writeJSON(w, http.StatusOK, s.batCached)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("response encode failed", err)
	}
}
