package sentinel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/skymap"
)

var (
	ErrPromptsDisabled = errors.New("operator prompts are disabled")
	ErrPromptTimeout   = errors.New("operator prompt timed out")
	ErrPromptDeclined  = errors.New("operator declined prompt")
	ErrPromptNotFound  = errors.New("prompt not found")
)

// Prompt is an open request for operator input.
type Prompt struct {
	ID       string            `json:"id"`
	Kind     skymap.PromptKind `json:"kind"`
	NoticeID string            `json:"notice_id"`
	Message  string            `json:"message"`
	Created  time.Time         `json:"created"`
	Expires  time.Time         `json:"expires"`
}

type openPrompt struct {
	Prompt
	answer chan string
}

// PromptBoard holds operator prompts raised by the sky map fallback chain
// until they are answered through the control surface or time out.
type PromptBoard struct {
	mu      sync.Mutex
	open    map[string]*openPrompt
	timeout time.Duration
	logger  log.Logger
}

// NewPromptBoard returns a board whose prompts wait up to timeout. A zero
// timeout disables prompting.
func NewPromptBoard(timeout time.Duration, logger log.Logger) *PromptBoard {
	if logger == nil {
		logger = log.Nop()
	}
	return &PromptBoard{open: make(map[string]*openPrompt), timeout: timeout, logger: logger}
}

// Ask posts a prompt and blocks for the answer.
func (b *PromptBoard) Ask(ctx context.Context, kind skymap.PromptKind, n *notice.Notice) (string, error) {
	if b.timeout <= 0 {
		return "", ErrPromptsDisabled
	}

	now := time.Now().UTC()
	p := &openPrompt{
		Prompt: Prompt{
			ID:       ulid.Make().String(),
			Kind:     kind,
			NoticeID: n.ID,
			Message:  promptMessage(kind, n),
			Created:  now,
			Expires:  now.Add(b.timeout),
		},
		answer: make(chan string, 1),
	}
	b.mu.Lock()
	b.open[p.ID] = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.open, p.ID)
		b.mu.Unlock()
	}()

	b.logger.Warn(ctx, "operator input requested",
		"prompt_id", p.ID,
		"kind", string(kind),
		"notice", n.ID,
		"expires", p.Expires,
	)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case a := <-p.answer:
		if a == "" {
			return "", ErrPromptDeclined
		}
		return a, nil
	case <-timer.C:
		return "", ErrPromptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Answer delivers value to prompt id. An empty value declines the prompt.
func (b *PromptBoard) Answer(id, value string) error {
	b.mu.Lock()
	p, ok := b.open[id]
	if ok {
		delete(b.open, id)
	}
	b.mu.Unlock()
	if !ok {
		return ErrPromptNotFound
	}
	p.answer <- strings.TrimSpace(value)
	return nil
}

// Pending lists open prompts, oldest first.
func (b *PromptBoard) Pending() []Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Prompt, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, p.Prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func promptMessage(kind skymap.PromptKind, n *notice.Notice) string {
	switch kind {
	case skymap.PromptURL:
		return fmt.Sprintf("automatic sky map retrieval failed for %s; enter a direct sky map URL", n.ID)
	case skymap.PromptFile:
		return fmt.Sprintf("sky map URL failed for %s; enter the path of a downloaded sky map file", n.ID)
	}
	return fmt.Sprintf("input needed for %s", n.ID)
}
