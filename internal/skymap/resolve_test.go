package skymap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/notice"
)

const tinyMap = `{"pixels":[{"ra":10,"dec":20,"prob":1}]}`

type fakePrompter struct {
	answers map[PromptKind]string
	asked   []PromptKind
}

func (p *fakePrompter) Ask(_ context.Context, kind PromptKind, _ *notice.Notice) (string, error) {
	p.asked = append(p.asked, kind)
	a, ok := p.answers[kind]
	if !ok {
		return "", errors.New("no answer")
	}
	return a, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[url]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, url string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[url] = data
	return nil
}

type record struct{ stage, outcome string }

func recorder() (*[]record, ObserverFunc) {
	var got []record
	return &got, func(stage, outcome string) { got = append(got, record{stage, outcome}) }
}

func mapServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/good.json":
			_, _ = w.Write([]byte(tinyMap))
		case "/garbage":
			_, _ = w.Write([]byte("not,a,map\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveEmbedded(t *testing.T) {
	t.Parallel()

	got, obs := recorder()
	r := NewResolver(log.Nop(), obs, Chain(NewFetcher(time.Second, 0), nil, nil)...)
	n := &notice.Notice{ID: "n1", Localization: notice.Localization{SkyMapData: []byte(tinyMap)}}

	m, err := r.Resolve(context.Background(), n)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Origin != "embedded" {
		t.Errorf("origin = %q", m.Origin)
	}
	if len(*got) != 1 || (*got)[0] != (record{StageEmbedded, OutcomeOK}) {
		t.Errorf("observed %v", *got)
	}
}

func TestResolveArchiveUsesCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := mapServer(t, &hits)
	cache := &memCache{data: map[string][]byte{}}
	r := NewResolver(log.Nop(), nil, Chain(NewFetcher(time.Second, 0), cache, nil)...)
	n := &notice.Notice{ID: "n1", Localization: notice.Localization{SkyMapURL: srv.URL + "/good.json"}}

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), n); err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestResolveFallsThroughToOperator(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := mapServer(t, &hits)
	p := &fakePrompter{answers: map[PromptKind]string{PromptURL: srv.URL + "/good.json"}}
	got, obs := recorder()
	r := NewResolver(log.Nop(), obs, Chain(NewFetcher(time.Second, 0), nil, p)...)
	n := &notice.Notice{ID: "n1", Localization: notice.Localization{SkyMapURL: srv.URL + "/missing.fits"}}

	m, err := r.Resolve(context.Background(), n)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Origin != srv.URL+"/good.json" {
		t.Errorf("origin = %q", m.Origin)
	}
	want := []record{
		{StageEmbedded, OutcomeSkipped},
		{StageArchive, OutcomeFailed},
		{StageOperatorURL, OutcomeOK},
	}
	if len(*got) != len(want) {
		t.Fatalf("observed %v, want %v", *got, want)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Errorf("stage %d = %v, want %v", i, (*got)[i], want[i])
		}
	}
	if len(p.asked) != 1 || p.asked[0] != PromptURL {
		t.Errorf("asked = %v", p.asked)
	}
}

func TestResolveOperatorFile(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := mapServer(t, &hits)
	path := filepath.Join(t.TempDir(), "map.csv")
	if err := os.WriteFile(path, []byte("10,20,1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := &fakePrompter{answers: map[PromptKind]string{
		PromptURL:  srv.URL + "/garbage",
		PromptFile: path,
	}}
	got, obs := recorder()
	r := NewResolver(log.Nop(), obs, Chain(NewFetcher(time.Second, 0), nil, p)...)

	m, err := r.Resolve(context.Background(), &notice.Notice{ID: "n1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Origin != path {
		t.Errorf("origin = %q", m.Origin)
	}
	if last := (*got)[len(*got)-1]; last != (record{StageOperatorFile, OutcomeOK}) {
		t.Errorf("last stage = %v", last)
	}
	if (*got)[2] != (record{StageOperatorURL, OutcomeInvalid}) {
		t.Errorf("operator url stage = %v, want invalid", (*got)[2])
	}
}

func TestResolveExhausted(t *testing.T) {
	t.Parallel()

	p := &fakePrompter{answers: map[PromptKind]string{PromptFile: filepath.Join(t.TempDir(), "nope")}}
	r := NewResolver(log.Nop(), nil, Chain(NewFetcher(time.Second, 0), nil, p)...)

	_, err := r.Resolve(context.Background(), &notice.Notice{ID: "n1"})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(ex.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(ex.Attempts))
	}
	if got := r.Stages(); len(got) != 4 || got[0] != StageEmbedded || got[3] != StageOperatorFile {
		t.Errorf("Stages = %v", got)
	}
}
