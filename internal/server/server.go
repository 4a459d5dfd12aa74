// Package server exposes the validation framework over HTTP and
// WebSocket: an ingest socket for host applications, a watch socket for
// clients, and reporting endpoints for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentwatch/eventval/internal/config"
	"github.com/agentwatch/eventval/pkg/events"
	"github.com/agentwatch/eventval/pkg/notify"
)

// Server hosts the daemon's HTTP and WebSocket surface.
type Server struct {
	cfg      config.ServerConfig
	fw       *events.EventValidationFramework
	notifier *notify.Notifier
	hub      *notify.Hub
	registry *prometheus.Registry
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// New wires a server around an already-constructed framework, notifier,
// and hub.
func New(cfg config.ServerConfig, fw *events.EventValidationFramework, notifier *notify.Notifier, hub *notify.Hub, registry *prometheus.Registry, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		fw:       fw,
		notifier: notifier,
		hub:      hub,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon sits behind the host application's auth layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get("/report", s.handleGlobalReport)
	r.Get("/report/{threadID}", s.handleThreadReport)
	r.Get("/threads/{threadID}/status", s.handleThreadStatus)
	r.Get("/threads/{threadID}/silent-failures", s.handleSilentFailures)
	r.Get("/threads/{threadID}/events", s.handleReplay)

	r.Get("/ws/ingest", s.handleIngest)
	r.Get("/ws/watch", s.handleWatch)

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGlobalReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fw.GenerateValidationReport(""))
}

func (s *Server) handleThreadReport(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	writeJSON(w, http.StatusOK, s.fw.GenerateValidationReport(threadID))
}

func (s *Server) handleThreadStatus(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	status := s.fw.GetSequenceStatus(threadID)
	if status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown thread"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSilentFailures(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"findings":  s.fw.DetectSilentFailures(threadID, nil),
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	start := epochParam(r, "start")
	end := epochParam(r, "end")
	writeJSON(w, http.StatusOK, s.fw.ReplayEvents(threadID, start, end))
}

// handleIngest accepts events pushed by the host application. Each JSON
// envelope is validated and routed through the notifier; the verdict is
// echoed back on the same socket.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ingest upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var raw events.RawEvent
		if err := conn.ReadJSON(&raw); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("ingest socket closed")
			}
			return
		}

		verdict, err := s.notifier.Notify(r.Context(), raw, nil)
		reply := map[string]interface{}{
			"event_id":            verdict.EventID,
			"thread_id":           verdict.ThreadID,
			"validation_result":   verdict.Result.String(),
			"validation_errors":   verdict.Errors,
			"validation_warnings": verdict.Warnings,
		}
		if err != nil {
			reply["delivery_error"] = err.Error()
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.log.WithError(err).Debug("ingest reply failed")
			return
		}
	}
}

// handleWatch subscribes a client to a thread's validated events.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "thread_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("watch upgrade failed")
		return
	}

	s.hub.Register(threadID, conn)
	defer func() {
		s.hub.Unregister(threadID, conn)
		conn.Close()
	}()

	// Drain control frames until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func epochParam(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
