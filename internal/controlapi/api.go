// Package controlapi exposes the daemon's control surface over HTTP.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/sentinel"
	"github.com/linnemanlabs/sentinel/internal/target"
)

// Controller defines the daemon operations the control surface drives.
type Controller interface {
	Submit(ctx context.Context, payload []byte, origin string) (*sentinel.SubmitResult, error)
	Ingest(ctx context.Context, ref string) (*sentinel.SubmitResult, error)
	Start() bool
	Pause() bool
	Shutdown()
	Kill()
	Status() sentinel.Status
	Topics() sentinel.Topics
	Queued() []sentinel.Entry
	ClearQueue(ctx context.Context) int
	Event(ctx context.Context, key string) (*sentinel.StoredEvent, []*target.Target, bool, error)
}

// Prompts is the operator prompt board. It may be nil when prompting is
// disabled.
type Prompts interface {
	Pending() []sentinel.Prompt
	Answer(id, value string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	ctl     Controller
	prompts Prompts
}

// New creates a new API handler.
func New(logger log.Logger, ctl Controller, prompts Prompts) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if ctl == nil {
		panic(xerrors.New("controller is required"))
	}
	return &API{
		logger:  logger,
		ctl:     ctl,
		prompts: prompts,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", a.handlePing)
		r.Get("/status", a.handleStatus)
		r.Post("/start", a.handleStart)
		r.Post("/pause", a.handlePause)
		r.Post("/shutdown", a.handleShutdown)
		r.Post("/kill", a.handleKill)

		r.Post("/notices", a.handleSubmitNotice)
		r.Post("/ingest", a.handleIngest)

		r.Get("/queue", a.handleListQueue)
		r.Delete("/queue", a.handleClearQueue)
		r.Get("/topics", a.handleTopics)
		r.Get("/events/{key}", a.handleGetEvent)

		r.Get("/prompts", a.handleListPrompts)
		r.Post("/prompts/{id}", a.handleAnswerPrompt)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pong": true, "state": a.ctl.Status().State})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.ctl.Status()
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sentinel.state", st.State),
		attribute.Int("sentinel.queue_depth", st.QueueDepth),
	)
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	resumed := a.ctl.Start()
	a.logger.Info(r.Context(), "start requested", "resumed", resumed)
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": resumed})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	paused := a.ctl.Pause()
	a.logger.Info(r.Context(), "pause requested", "paused", paused)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (a *API) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.logger.Warn(r.Context(), "shutdown requested through control api")
	a.ctl.Shutdown()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": "stopping"})
}

func (a *API) handleKill(w http.ResponseWriter, r *http.Request) {
	a.logger.Warn(r.Context(), "kill requested through control api")
	a.ctl.Kill()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": "killed"})
}

func (a *API) handleListQueue(w http.ResponseWriter, _ *http.Request) {
	entries := a.ctl.Queued()
	if entries == nil {
		entries = []sentinel.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n := a.ctl.ClearQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

func (a *API) handleTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.Topics())
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentinel.event_key", key))

	ev, targets, ok, err := a.ctl.Event(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get event", "key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(
		attribute.String("sentinel.event_status", string(ev.Status)),
		attribute.Int("sentinel.targets", len(targets)),
	)
	if targets == nil {
		targets = []*target.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev, "targets": targets})
}
