package sentinel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/postgres"
	"github.com/linnemanlabs/sentinel/internal/strategy"
	"github.com/linnemanlabs/sentinel/internal/target"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/sentinel")

// Outcome is how a notice left the pipeline.
type Outcome string

const (
	OutcomeDone          Outcome = "done"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeParseError    Outcome = "parse_error"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeBuildFailed   Outcome = "build_failed"
	OutcomeRequeued      Outcome = "requeued"
	OutcomePersistFailed Outcome = "persist_failed"
	OutcomePanicked      Outcome = "panicked"
)

// TargetBuilder builds the targets for a matched notice.
type TargetBuilder interface {
	Build(ctx context.Context, eventKey string, n *notice.Notice, s *strategy.Strategy) ([]*target.Target, error)
}

// Notifier surfaces events that need an operator's attention.
type Notifier interface {
	BuildFailed(ctx context.Context, n *notice.Notice, err error) error
	Wakeup(ctx context.Context, n *notice.Notice, strategyName string, targets int) error
}

// Spool keeps raw payloads: accepted notices by identifier, failed ones
// for diagnosis.
type Spool interface {
	Accepted(ctx context.Context, noticeID string, payload []byte) error
	Failed(ctx context.Context, entryID string, payload []byte) error
}

// Archive fetches a notice payload by identifier.
type Archive interface {
	Fetch(ctx context.Context, ivorn string) ([]byte, error)
}

// Config controls pipeline policy.
type Config struct {
	ProcessTestNotices bool
	Topics             []string
	BuildAttempts      int
	BuildBackoff       time.Duration
	StartPaused        bool
}

// Deps are the collaborators of a Service. Parser, Tracker, Matcher,
// Builder and Store are required.
type Deps struct {
	Parser   *notice.Parser
	Tracker  *event.Tracker
	Matcher  *strategy.Matcher
	Builder  TargetBuilder
	Store    Store
	Queue    *Queue
	Prompts  *PromptBoard
	Notifier Notifier
	Spool    Spool
	Archive  Archive
	Hooks    Hooks
	Logger   log.Logger
}

// SubmitResult is the outcome of offering a payload to the queue.
type SubmitResult struct {
	ID       string `json:"id,omitempty"`
	NoticeID string `json:"notice_id,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Service owns the queue, the event tracker and the store handle, and runs
// the single processing worker.
type Service struct {
	cfg      Config
	parser   *notice.Parser
	tracker  *event.Tracker
	matcher  *strategy.Matcher
	builder  TargetBuilder
	store    Store
	queue    *Queue
	prompts  *PromptBoard
	notifier Notifier
	spool    Spool
	archive  Archive
	hooks    Hooks
	logger   log.Logger

	mu        sync.Mutex
	started   time.Time
	running   bool
	paused    bool
	stopping  bool
	killed    bool
	resume    chan struct{}
	stopWait  context.CancelFunc
	kill      context.CancelFunc
	done      chan struct{}
	processed map[Outcome]int
	last      *LastResult
}

// LastResult describes the most recently finished notice.
type LastResult struct {
	EntryID  string    `json:"entry_id"`
	NoticeID string    `json:"notice_id"`
	Outcome  Outcome   `json:"outcome"`
	Finished time.Time `json:"finished"`
}

// NewService wires a Service. It panics when a required dependency is nil.
func NewService(cfg Config, d Deps) *Service {
	if d.Parser == nil || d.Tracker == nil || d.Matcher == nil || d.Builder == nil || d.Store == nil {
		panic(xerrors.New("sentinel: parser, tracker, matcher, builder and store are required"))
	}
	if d.Queue == nil {
		d.Queue = NewQueue()
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if cfg.BuildAttempts < 1 {
		cfg.BuildAttempts = 1
	}
	return &Service{
		cfg:       cfg,
		parser:    d.Parser,
		tracker:   d.Tracker,
		matcher:   d.Matcher,
		builder:   d.Builder,
		store:     d.Store,
		queue:     d.Queue,
		prompts:   d.Prompts,
		notifier:  d.Notifier,
		spool:     d.Spool,
		archive:   d.Archive,
		hooks:     d.Hooks,
		logger:    d.Logger,
		paused:    cfg.StartPaused,
		resume:    make(chan struct{}),
		done:      make(chan struct{}),
		processed: make(map[Outcome]int),
	}
}

// Queue returns the ingestion queue.
func (s *Service) Queue() *Queue { return s.queue }

// Prompts returns the operator prompt board, nil when prompting is not wired.
func (s *Service) Prompts() *PromptBoard { return s.prompts }

// Submit applies the role filter and enqueues payload. Payloads whose
// header cannot be read are dropped as parse errors and spooled.
func (s *Service) Submit(ctx context.Context, payload []byte, origin string) (*SubmitResult, error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return nil, ErrNotRunning
	}

	env, err := s.parser.Sniff(payload)
	if err != nil {
		s.stageFailed(StateReceived)
		s.finished(OutcomeParseError, 0)
		s.spoolFailed(ctx, "unread-"+ulid.Make().String(), payload)
		s.logger.Error(ctx, err, "unreadable notice dropped", "origin", origin, "bytes", len(payload))
		return nil, err
	}

	if !Accept(env.Role, s.cfg.ProcessTestNotices) {
		s.logger.Info(ctx, "notice ignored by role filter", "notice", env.ID, "role", string(env.Role), "origin", origin)
		s.finished(OutcomeIgnored, 0)
		return &SubmitResult{NoticeID: env.ID, Skipped: true, Reason: "role " + string(env.Role)}, nil
	}

	id := s.queue.Push(env, origin, payload, time.Now().UTC())
	if s.hooks.OnReceived != nil {
		s.hooks.OnReceived(origin)
	}
	s.reportDepth()
	s.logger.Info(ctx, "notice queued", "entry", id, "notice", env.ID, "origin", origin)
	return &SubmitResult{ID: id, NoticeID: env.ID}, nil
}

// Ingest enqueues one notice out of band. ref is a local file path or a
// notice identifier looked up in the archive.
func (s *Service) Ingest(ctx context.Context, ref string) (*SubmitResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty ingest target")
	}
	if st, err := os.Stat(ref); err == nil && st.Mode().IsRegular() {
		data, err := os.ReadFile(ref) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ref, err)
		}
		return s.Submit(ctx, data, OriginManual)
	}
	if !strings.HasPrefix(ref, "ivo://") {
		return nil, fmt.Errorf("%s is neither a readable file nor a notice identifier", ref)
	}
	if s.archive == nil {
		return nil, errors.New("no notice archive configured")
	}
	data, err := s.archive.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("archive lookup %s: %w", ref, err)
	}
	return s.Submit(ctx, data, OriginManual)
}

// Run processes queued notices one at a time until ctx ends, Shutdown or
// Kill is called. Cancelling ctx or calling Shutdown lets the notice in
// flight finish; Kill aborts it.
func (s *Service) Run(ctx context.Context) error {
	waitCtx, stopWait := context.WithCancel(ctx)
	procCtx, kill := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		stopWait()
		kill()
		return errors.New("sentinel: Run called twice")
	}
	s.running = true
	s.started = time.Now().UTC()
	s.stopWait = stopWait
	s.kill = kill
	if s.stopping {
		stopWait()
	}
	s.mu.Unlock()

	defer func() {
		stopWait()
		kill()
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		close(s.done)
	}()

	s.logger.Info(ctx, "sentinel worker started", "paused", s.cfg.StartPaused, "process_test_notices", s.cfg.ProcessTestNotices)
	for {
		if err := s.waitActive(waitCtx); err != nil {
			return nil
		}
		e, err := s.queue.Next(waitCtx)
		if err != nil {
			return nil
		}
		s.process(procCtx, e)
	}
}

func (s *Service) waitActive(ctx context.Context) error {
	for {
		s.mu.Lock()
		paused, ch := s.paused, s.resume
		s.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed when Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

// Start resumes processing. It reports whether the worker was paused.
func (s *Service) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false
	}
	s.paused = false
	close(s.resume)
	s.resume = make(chan struct{})
	return true
}

// Pause stops dequeuing after the notice in flight. Submit keeps queuing.
func (s *Service) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	s.paused = true
	return true
}

// Shutdown stops the worker after the notice in flight and refuses new
// submissions.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.stopWait != nil {
		s.stopWait()
	}
}

// Kill aborts the notice in flight and stops the worker.
func (s *Service) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	s.killed = true
	if s.stopWait != nil {
		s.stopWait()
	}
	if s.kill != nil {
		s.kill()
	}
}

// Killed reports whether Kill was called.
func (s *Service) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Status is a point-in-time view of the daemon.
type Status struct {
	State      string          `json:"state"`
	Started    time.Time       `json:"started,omitzero"`
	QueueDepth int             `json:"queue_depth"`
	Current    *Entry          `json:"current,omitempty"`
	Events     int             `json:"events"`
	Prompts    int             `json:"open_prompts"`
	Processed  map[Outcome]int `json:"processed"`
	Last       *LastResult     `json:"last,omitempty"`
}

// Status reports worker state, queue depth and outcome counts.
func (s *Service) Status() Status {
	st := Status{QueueDepth: s.queue.Len(), Events: s.tracker.Len()}
	if cur, ok := s.queue.Current(); ok {
		st.Current = &cur
	}
	if s.prompts != nil {
		st.Prompts = len(s.prompts.Pending())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopping:
		st.State = "stopping"
	case !s.running:
		st.State = "starting"
	case s.paused:
		st.State = "paused"
	default:
		st.State = "running"
	}
	st.Started = s.started
	st.Processed = make(map[Outcome]int, len(s.processed))
	for k, v := range s.processed {
		st.Processed[k] = v
	}
	if s.last != nil {
		cp := *s.last
		st.Last = &cp
	}
	return st
}

// Topics lists the subscribed source topics and the schemas the parser
// understands.
type Topics struct {
	Subscribed []string `json:"subscribed"`
	Schemas    []string `json:"schemas"`
}

// Topics reports the configured topics.
func (s *Service) Topics() Topics {
	return Topics{
		Subscribed: append([]string(nil), s.cfg.Topics...),
		Schemas:    s.parser.Schemas(),
	}
}

// Queued lists the queue without payloads.
func (s *Service) Queued() []Entry { return s.queue.List() }

// ClearQueue drops every pending entry and returns how many were dropped.
func (s *Service) ClearQueue(ctx context.Context) int {
	n := s.queue.Clear()
	s.reportDepth()
	s.logger.Warn(ctx, "queue cleared by operator", "dropped", n)
	return n
}

// Event returns the stored event and its targets.
func (s *Service) Event(ctx context.Context, key string) (*StoredEvent, []*target.Target, bool, error) {
	ev, ok, err := s.store.Event(ctx, key)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	ts, err := s.store.Targets(ctx, key)
	if err != nil {
		return nil, nil, false, err
	}
	return ev, ts, true, nil
}

func (s *Service) process(ctx context.Context, e Entry) {
	start := time.Now()
	L := s.logger.With("entry", e.ID, "notice", e.NoticeID, "origin", e.Origin)
	ctx = log.WithContext(postgres.NewQueryStatsContext(ctx), L)

	ctx, span := tracer.Start(ctx, "notice.process", trace.WithAttributes(
		attribute.String("sentinel.entry_id", e.ID),
		attribute.String("sentinel.notice_id", e.NoticeID),
		attribute.String("sentinel.origin", e.Origin),
		attribute.Int("sentinel.attempt", e.Attempts),
	))
	defer span.End()

	outcome := s.safeHandle(ctx, L, e)
	span.SetAttributes(attribute.String("sentinel.outcome", string(outcome)))
	if failed(outcome) {
		span.SetStatus(codes.Error, string(outcome))
	}

	if outcome == OutcomeRequeued {
		s.queue.Requeue(e.ID)
	} else {
		st := StateDone
		if failed(outcome) {
			st = StateFailed
		}
		s.queue.SetState(e.ID, st)
		s.queue.Done(e.ID)
	}
	s.reportDepth()

	dur := time.Since(start)
	s.finished(outcome, dur.Seconds())
	s.mu.Lock()
	s.last = &LastResult{EntryID: e.ID, NoticeID: e.NoticeID, Outcome: outcome, Finished: time.Now().UTC()}
	s.mu.Unlock()

	fields := []any{"outcome", string(outcome), "duration", dur.String()}
	if qs, ok := postgres.QueryStatsFromContext(ctx); ok {
		count, total, errs := qs.Snapshot()
		fields = append(fields, "db_queries", count, "db_duration", total.Seconds(), "db_errors", errs)
	}
	L.Info(ctx, "notice finished", fields...)
}

func failed(o Outcome) bool {
	switch o {
	case OutcomeParseError, OutcomeMalformed, OutcomeNoMatch, OutcomeBuildFailed, OutcomePersistFailed, OutcomePanicked:
		return true
	}
	return false
}

// safeHandle runs handle and turns a panic into a dropped notice.
func (s *Service) safeHandle(ctx context.Context, L log.Logger, e Entry) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.spoolFailed(ctx, e.ID, e.Payload)
			L.Error(ctx, fmt.Errorf("panic: %v", r), "notice processing panicked, notice dropped",
				"stack", string(debug.Stack()))
			outcome = OutcomePanicked
		}
	}()
	return s.handle(ctx, L, e)
}

func (s *Service) handle(ctx context.Context, L log.Logger, e Entry) Outcome {
	s.queue.SetState(e.ID, StateParsing)
	n, err := s.parser.Parse(e.Payload)
	if err != nil {
		s.stageFailed(StateParsing)
		s.spoolFailed(ctx, e.ID, e.Payload)
		L.Error(ctx, err, "notice parse failed, payload retained")
		return OutcomeParseError
	}
	if !Accept(n.Role, s.cfg.ProcessTestNotices) {
		L.Info(ctx, "notice ignored by role filter", "role", string(n.Role))
		return OutcomeIgnored
	}
	if s.spool != nil {
		if err := s.spool.Accepted(ctx, n.ID, e.Payload); err != nil {
			L.Warn(ctx, "failed to archive notice payload", "error", err.Error())
		}
	}
	L = L.With("event_key", n.Key(), "source", n.Source, "subtype", n.Subtype)

	s.queue.SetState(e.ID, StateClassifying)
	up, err := s.tracker.Plan(n)
	if err != nil {
		s.stageFailed(StateClassifying)
		s.spoolFailed(ctx, e.ID, e.Payload)
		L.Error(ctx, err, "citation chain rejected")
		return OutcomeMalformed
	}
	if up.Kind == event.KindDuplicate {
		L.Info(ctx, "notice already ingested")
		return OutcomeDuplicate
	}

	rec := &Record{Notice: n, Event: up.Event}
	var strat *strategy.Strategy
	switch {
	case up.Kind == event.KindRetracted:
		L.Warn(ctx, "event retracted, pending targets will be invalidated", "event", up.Event.Key)
	case !up.Current:
		L.Info(ctx, "notice is not the event's current notice, no targets built", "event", up.Event.Key)
	default:
		m, err := s.matcher.Match(up.Event)
		if err != nil {
			s.stageFailed(StateClassifying)
			L.Warn(ctx, "no strategy applies, notice dropped", "error", err.Error())
			return OutcomeNoMatch
		}
		strat = m.Strategy
		rec.Strategy = strat.Name
		L = L.With("strategy", strat.Name, "rule", m.Rule)

		s.queue.SetState(e.ID, StateBuildingTargets)
		ts, err := s.buildWithRetry(ctx, L, up.Event.Key, n, strat)
		if err != nil {
			s.stageFailed(StateBuildingTargets)
			L.Error(ctx, err, "target build failed, notice dropped", "attempts", s.cfg.BuildAttempts)
			if s.notifier != nil {
				if nerr := s.notifier.BuildFailed(ctx, n, err); nerr != nil {
					L.Error(ctx, nerr, "build failure notification failed")
				}
			}
			return OutcomeBuildFailed
		}
		rec.Targets = ts
	}

	s.queue.SetState(e.ID, StatePersisting)
	inserted, err := s.store.Commit(postgres.WithStage(ctx, string(StatePersisting)), rec)
	if err != nil {
		perr := &PersistenceError{NoticeID: n.ID, Err: err}
		s.stageFailed(StatePersisting)
		if e.Attempts == 0 {
			L.Error(ctx, perr, "persist failed, notice requeued")
			return OutcomeRequeued
		}
		L.Error(ctx, perr, "persist failed again, notice dropped", "attempts", e.Attempts+1)
		return OutcomePersistFailed
	}
	s.tracker.Commit(up)
	if !inserted {
		L.Info(ctx, "notice already persisted")
		return OutcomeDuplicate
	}

	if s.hooks.OnTargets != nil && len(rec.Targets) > 0 {
		s.hooks.OnTargets(string(n.Localization.Kind()), len(rec.Targets))
	}
	L.Info(ctx, "notice persisted",
		"kind", string(up.Kind),
		"event", up.Event.Key,
		"status", string(up.Event.Status),
		"targets", len(rec.Targets),
	)

	if strat != nil && strat.WakeupAlert && s.notifier != nil {
		if err := s.notifier.Wakeup(ctx, n, strat.Name, len(rec.Targets)); err != nil {
			L.Error(ctx, err, "wakeup notification failed")
		}
	}
	return OutcomeDone
}

func (s *Service) buildWithRetry(ctx context.Context, L log.Logger, key string, n *notice.Notice, strat *strategy.Strategy) ([]*target.Target, error) {
	b := backoff.NewExponentialBackOff()
	if s.cfg.BuildBackoff > 0 {
		b.InitialInterval = s.cfg.BuildBackoff
	}

	attempt := 0
	return backoff.Retry(ctx, func() ([]*target.Target, error) {
		attempt++
		bctx, span := tracer.Start(ctx, "target.build", trace.WithAttributes(
			attribute.String("sentinel.event_key", key),
			attribute.String("sentinel.strategy", strat.Name),
			attribute.Int("sentinel.attempt", attempt),
		))
		defer span.End()

		ts, err := s.builder.Build(bctx, key, n, strat)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
			L.Warn(ctx, "target build attempt failed", "attempt", attempt, "error", err.Error())
			return nil, err
		}
		span.SetAttributes(attribute.Int("sentinel.targets", len(ts)))
		return ts, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.BuildAttempts)))
}

func (s *Service) spoolFailed(ctx context.Context, id string, payload []byte) {
	if s.spool == nil {
		return
	}
	if err := s.spool.Failed(ctx, id, payload); err != nil {
		s.logger.Warn(ctx, "failed to retain rejected payload", "entry", id, "error", err.Error())
	}
}

func (s *Service) stageFailed(st State) {
	if s.hooks.OnStageFailure != nil {
		s.hooks.OnStageFailure(st)
	}
}

func (s *Service) finished(o Outcome, seconds float64) {
	s.mu.Lock()
	s.processed[o]++
	s.mu.Unlock()
	if s.hooks.OnProcessed != nil {
		s.hooks.OnProcessed(o, seconds)
	}
}

func (s *Service) reportDepth() {
	if s.hooks.OnQueueDepth != nil {
		s.hooks.OnQueueDepth(s.queue.Len())
	}
}
