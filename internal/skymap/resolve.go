package skymap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/notice"
)

// Stage names, in chain order.
const (
	StageEmbedded     = "embedded"
	StageArchive      = "archive"
	StageOperatorURL  = "operator-url"
	StageOperatorFile = "operator-file"
)

// Stage outcomes reported to the observer.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// ErrSkip tells the resolver a stage has nothing to offer for a notice.
var ErrSkip = errors.New("stage not applicable")

// Stage is one step of the retrieval chain. Fetch returns the raw map and a
// description of where it came from.
type Stage interface {
	Name() string
	Fetch(ctx context.Context, n *notice.Notice) (data []byte, origin string, err error)
}

// PromptKind names what an operator is asked for.
type PromptKind string

const (
	PromptURL  PromptKind = "skymap-url"
	PromptFile PromptKind = "skymap-file"
)

// Prompter asks an operator for input and blocks until an answer arrives,
// the prompt times out, or ctx ends.
type Prompter interface {
	Ask(ctx context.Context, kind PromptKind, n *notice.Notice) (string, error)
}

// ObserverFunc receives one call per attempted stage.
type ObserverFunc func(stage, outcome string)

// StageError records why one stage did not produce a map.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

// ExhaustedError is returned when every stage failed or was skipped.
type ExhaustedError struct {
	NoticeID string
	Attempts []StageError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("no sky map for %s (%s)", e.NoticeID, strings.Join(parts, "; "))
}

// Resolver walks an ordered list of stages until one yields a decodable map.
type Resolver struct {
	stages  []Stage
	logger  log.Logger
	observe ObserverFunc
}

// NewResolver returns a resolver over stages. observe may be nil.
func NewResolver(logger log.Logger, observe ObserverFunc, stages ...Stage) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Resolver{stages: stages, logger: logger, observe: observe}
}

// Stages returns the stage names in order.
func (r *Resolver) Stages() []string {
	out := make([]string, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Name()
	}
	return out
}

// Resolve returns the sky map for n from the first stage that succeeds.
func (r *Resolver) Resolve(ctx context.Context, n *notice.Notice) (*SkyMap, error) {
	L := r.logger.With("notice", n.ID)
	var attempts []StageError

	for _, st := range r.stages {
		name := st.Name()
		data, origin, err := st.Fetch(ctx, n)
		switch {
		case errors.Is(err, ErrSkip):
			r.observe(name, OutcomeSkipped)
			attempts = append(attempts, StageError{Stage: name, Err: err})
			continue
		case err != nil:
			r.observe(name, OutcomeFailed)
			L.Warn(ctx, "sky map stage failed", "stage", name, "error", err.Error())
			attempts = append(attempts, StageError{Stage: name, Err: err})
			if ctx.Err() != nil {
				return nil, &ExhaustedError{NoticeID: n.ID, Attempts: attempts}
			}
			continue
		}

		m, err := Decode(data)
		if err != nil {
			r.observe(name, OutcomeInvalid)
			L.Warn(ctx, "sky map stage returned an unreadable map", "stage", name, "origin", origin, "error", err.Error())
			attempts = append(attempts, StageError{Stage: name, Err: err})
			continue
		}
		m.Origin = origin
		r.observe(name, OutcomeOK)
		L.Info(ctx, "sky map retrieved", "stage", name, "origin", origin, "pixels", len(m.Pixels))
		return m, nil
	}
	return nil, &ExhaustedError{NoticeID: n.ID, Attempts: attempts}
}

// Chain builds the standard retrieval order: data embedded in the notice,
// the archive URL the notice references, then operator prompts for a URL and
// for a local file. cache and prompter may be nil.
func Chain(f *Fetcher, cache Cache, prompter Prompter) []Stage {
	stages := []Stage{embeddedStage{}, &archiveStage{fetcher: f, cache: cache}}
	if prompter != nil {
		stages = append(stages,
			&operatorURLStage{prompter: prompter, fetcher: f},
			&operatorFileStage{prompter: prompter},
		)
	}
	return stages
}

type embeddedStage struct{}

func (embeddedStage) Name() string { return StageEmbedded }

func (embeddedStage) Fetch(_ context.Context, n *notice.Notice) ([]byte, string, error) {
	if len(n.Localization.SkyMapData) == 0 {
		return nil, "", ErrSkip
	}
	return n.Localization.SkyMapData, "embedded", nil
}

type archiveStage struct {
	fetcher *Fetcher
	cache   Cache
}

func (*archiveStage) Name() string { return StageArchive }

func (s *archiveStage) Fetch(ctx context.Context, n *notice.Notice) ([]byte, string, error) {
	url := n.Localization.SkyMapURL
	if url == "" {
		return nil, "", ErrSkip
	}
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, url); err == nil && ok {
			return b, url, nil
		}
	}
	b, err := s.fetcher.Get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if s.cache != nil {
		// a cache write failure only costs a future download
		_ = s.cache.Set(ctx, url, b)
	}
	return b, url, nil
}

type operatorURLStage struct {
	prompter Prompter
	fetcher  *Fetcher
}

func (*operatorURLStage) Name() string { return StageOperatorURL }

func (s *operatorURLStage) Fetch(ctx context.Context, n *notice.Notice) ([]byte, string, error) {
	url, err := s.prompter.Ask(ctx, PromptURL, n)
	if err != nil {
		return nil, "", err
	}
	b, err := s.fetcher.Get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return b, url, nil
}

type operatorFileStage struct {
	prompter Prompter
}

func (*operatorFileStage) Name() string { return StageOperatorFile }

func (s *operatorFileStage) Fetch(ctx context.Context, n *notice.Notice) ([]byte, string, error) {
	path, err := s.prompter.Ask(ctx, PromptFile, n)
	if err != nil {
		return nil, "", err
	}
	b, err := readFile(path)
	if err != nil {
		return nil, "", err
	}
	return b, path, nil
}
