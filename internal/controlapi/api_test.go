package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/archive"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/sentinel"
	"github.com/linnemanlabs/sentinel/internal/target"
)

// fakeController implements Controller for testing.
type fakeController struct {
	mu        sync.Mutex
	submitted []string
	ingested  []string
	started   int
	paused    int
	shutdown  bool
	killed    bool
	submitErr error
	ingestErr error
	skip      bool
	events    map[string]*sentinel.StoredEvent
	eventErr  error
}

func newFakeController() *fakeController {
	return &fakeController{events: map[string]*sentinel.StoredEvent{
		"LVC_S230522n": {Key: "LVC_S230522n", Source: "LVC", Status: event.StatusActive, Notices: []string{"ivo://gwnet/LVC#S230522n-1-Preliminary"}},
	}}
}

func (f *fakeController) Submit(_ context.Context, payload []byte, origin string) (*sentinel.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, origin+":"+string(payload))
	if f.skip {
		return &sentinel.SubmitResult{NoticeID: "n1", Skipped: true, Reason: "role test"}, nil
	}
	return &sentinel.SubmitResult{ID: "e1", NoticeID: "n1"}, nil
}

func (f *fakeController) Ingest(_ context.Context, ref string) (*sentinel.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.ingested = append(f.ingested, ref)
	return &sentinel.SubmitResult{ID: "e2", NoticeID: ref}, nil
}

func (f *fakeController) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.started == 1
}

func (f *fakeController) Pause() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
	return true
}

func (f *fakeController) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeController) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeController) Status() sentinel.Status {
	return sentinel.Status{State: "running", QueueDepth: 2, Processed: map[sentinel.Outcome]int{sentinel.OutcomeDone: 3}}
}

func (f *fakeController) Topics() sentinel.Topics {
	return sentinel.Topics{Subscribed: []string{"igwn.gwalert"}, Schemas: []string{"igwn:*"}}
}

func (f *fakeController) Queued() []sentinel.Entry {
	return []sentinel.Entry{{ID: "e1", NoticeID: "n1", State: sentinel.StateQueued}}
}

func (f *fakeController) ClearQueue(context.Context) int { return 4 }

func (f *fakeController) Event(_ context.Context, key string) (*sentinel.StoredEvent, []*target.Target, bool, error) {
	if f.eventErr != nil {
		return nil, nil, false, f.eventErr
	}
	ev, ok := f.events[key]
	if !ok {
		return nil, nil, false, nil
	}
	return ev, []*target.Target{{ID: "t1", EventKey: key, Name: "LVC_S230522n_T00001", Status: target.StatusPending}}, true, nil
}

// fakePrompts implements Prompts for testing.
type fakePrompts struct {
	mu      sync.Mutex
	answers map[string]string
}

func (p *fakePrompts) Pending() []sentinel.Prompt {
	return []sentinel.Prompt{{ID: "p1", Kind: "skymap-url", NoticeID: "n1"}}
}

func (p *fakePrompts) Answer(id, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id != "p1" {
		return sentinel.ErrPromptNotFound
	}
	p.answers[id] = value
	return nil
}

func newTestRouter(t *testing.T) (chi.Router, *fakeController, *fakePrompts) {
	t.Helper()
	ctl := newFakeController()
	prompts := &fakePrompts{answers: map[string]string{}}
	api := New(nil, ctl, prompts)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, ctl, prompts
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()
	api := New(nil, newFakeController(), nil)
	if api.logger == nil {
		t.Fatal("New(nil, ctl, nil) left logger nil; expected Nop logger")
	}
}

func TestNew_NilController_Panics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil, nil) did not panic; expected panic for nil controller")
		}
	}()
	New(log.Nop(), nil, nil)
}

// Routing

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"ping", http.MethodGet, "/api/v1/ping", "", http.StatusOK},
		{"status", http.MethodGet, "/api/v1/status", "", http.StatusOK},
		{"start", http.MethodPost, "/api/v1/start", "", http.StatusOK},
		{"pause", http.MethodPost, "/api/v1/pause", "", http.StatusOK},
		{"queue", http.MethodGet, "/api/v1/queue", "", http.StatusOK},
		{"clear queue", http.MethodDelete, "/api/v1/queue", "", http.StatusOK},
		{"topics", http.MethodGet, "/api/v1/topics", "", http.StatusOK},
		{"event", http.MethodGet, "/api/v1/events/LVC_S230522n", "", http.StatusOK},
		{"event missing", http.MethodGet, "/api/v1/events/LVC_S1", "", http.StatusNotFound},
		{"prompts", http.MethodGet, "/api/v1/prompts", "", http.StatusOK},
		{"GET start not allowed", http.MethodGet, "/api/v1/start", "", http.StatusMethodNotAllowed},
		{"GET shutdown not allowed", http.MethodGet, "/api/v1/shutdown", "", http.StatusMethodNotAllowed},
		{"PUT queue not allowed", http.MethodPut, "/api/v1/queue", "", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
		{"v2", http.MethodGet, "/api/v2/status", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestShutdownAndKill(t *testing.T) {
	t.Parallel()
	r, ctl, _ := newTestRouter(t)

	if rec := do(r, http.MethodPost, "/api/v1/shutdown", ""); rec.Code != http.StatusAccepted {
		t.Errorf("shutdown = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec := do(r, http.MethodPost, "/api/v1/kill", ""); rec.Code != http.StatusAccepted {
		t.Errorf("kill = %d, want %d", rec.Code, http.StatusAccepted)
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if !ctl.shutdown || !ctl.killed {
		t.Errorf("shutdown=%v killed=%v, want both true", ctl.shutdown, ctl.killed)
	}
}

func TestStart_ReportsResume(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	for i, want := range []bool{true, false} {
		rec := do(r, http.MethodPost, "/api/v1/start", "")
		var resp map[string]bool
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["resumed"] != want {
			t.Errorf("call %d resumed = %v, want %v", i, resp["resumed"], want)
		}
	}
}

// Notice submission

func TestSubmitNotice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		topic      string
		skip       bool
		err        error
		wantStatus int
		wantOrigin string
	}{
		{name: "accepted", body: "<voe:VOEvent/>", topic: "gcn.classic.voevent.LVC_PRELIMINARY", wantStatus: http.StatusAccepted, wantOrigin: "gcn.classic.voevent.LVC_PRELIMINARY"},
		{name: "default origin", body: "<voe:VOEvent/>", wantStatus: http.StatusAccepted, wantOrigin: OriginHTTP},
		{name: "skipped by role", body: "<voe:VOEvent/>", skip: true, wantStatus: http.StatusOK, wantOrigin: OriginHTTP},
		{name: "empty", body: "", wantStatus: http.StatusBadRequest},
		{name: "parse error", body: "junk", err: &notice.ParseError{Reason: "unrecognised serialization"}, wantStatus: http.StatusUnprocessableEntity},
		{name: "stopping", body: "<voe:VOEvent/>", err: sentinel.ErrNotRunning, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, ctl, _ := newTestRouter(t)
			ctl.skip = tt.skip
			ctl.submitErr = tt.err

			req := httptest.NewRequest(http.MethodPost, "/api/v1/notices", strings.NewReader(tt.body))
			if tt.topic != "" {
				req.Header.Set(TopicHeader, tt.topic)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantOrigin != "" {
				ctl.mu.Lock()
				defer ctl.mu.Unlock()
				if len(ctl.submitted) != 1 || !strings.HasPrefix(ctl.submitted[0], tt.wantOrigin+":") {
					t.Errorf("submitted = %v, want origin %q", ctl.submitted, tt.wantOrigin)
				}
			}
		})
	}
}

func TestIngest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"identifier", `{"target":"ivo://gwnet/LVC#S230522n-1-Preliminary"}`, nil, http.StatusAccepted},
		{"invalid JSON", `{bad`, nil, http.StatusBadRequest},
		{"missing target", `{"target":"  "}`, nil, http.StatusBadRequest},
		{"not in archive", `{"target":"ivo://x/Y#z"}`, fmt.Errorf("archive lookup: %w", archive.ErrNotFound), http.StatusNotFound},
		{"other failure", `{"target":"nope"}`, errors.New("nope is neither a readable file nor a notice identifier"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, ctl, _ := newTestRouter(t)
			ctl.ingestErr = tt.err

			rec := do(r, http.MethodPost, "/api/v1/ingest", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code >= 400 {
				var resp map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp["error"] == "" {
					t.Errorf("error body = %q, want JSON error", rec.Body.String())
				}
			}
		})
	}
}

// Queue, events and prompts

func TestListQueue(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	rec := do(r, http.MethodGet, "/api/v1/queue", "")
	var resp struct {
		Entries []sentinel.Entry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].NoticeID != "n1" {
		t.Errorf("entries = %+v", resp.Entries)
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	rec := do(r, http.MethodDelete, "/api/v1/queue", "")
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["dropped"] != 4 {
		t.Errorf("dropped = %d, want 4", resp["dropped"])
	}
}

func TestGetEvent(t *testing.T) {
	t.Parallel()
	r, ctl, _ := newTestRouter(t)

	rec := do(r, http.MethodGet, "/api/v1/events/LVC_S230522n", "")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp struct {
		Event   sentinel.StoredEvent `json:"event"`
		Targets []target.Target      `json:"targets"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Event.Key != "LVC_S230522n" || len(resp.Targets) != 1 {
		t.Errorf("response = %+v", resp)
	}

	ctl.eventErr = errors.New("db down")
	if rec := do(r, http.MethodGet, "/api/v1/events/LVC_S230522n", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestAnswerPrompt(t *testing.T) {
	t.Parallel()
	r, _, prompts := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"answer", "/api/v1/prompts/p1", `{"value":"https://example.org/map.csv"}`, http.StatusOK},
		{"unknown prompt", "/api/v1/prompts/p9", `{"value":"x"}`, http.StatusNotFound},
		{"invalid JSON", "/api/v1/prompts/p1", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(r, http.MethodPost, tt.path, tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
	}

	prompts.mu.Lock()
	defer prompts.mu.Unlock()
	if prompts.answers["p1"] != "https://example.org/map.csv" {
		t.Errorf("answers = %v", prompts.answers)
	}
}

func TestPromptsDisabled(t *testing.T) {
	t.Parallel()
	api := New(nil, newFakeController(), nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	rec := do(r, http.MethodGet, "/api/v1/prompts", "")
	if !strings.Contains(rec.Body.String(), `"prompts":[]`) {
		t.Errorf("body = %s, want empty prompt list", rec.Body.String())
	}
	if rec := do(r, http.MethodPost, "/api/v1/prompts/p1", `{"value":""}`); rec.Code != http.StatusNotFound {
		t.Errorf("answer with prompts disabled = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
