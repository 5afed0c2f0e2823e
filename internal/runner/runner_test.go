package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/pipeline"
	"github.com/starford/deepnote/internal/queue"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/testutil"
	"github.com/starford/deepnote/internal/vault"
)

type env struct {
	vault    *vault.Vault
	queue    *queue.Store
	research *testutil.StubResearcher
	runner   *Runner
}

func newEnv(t *testing.T, results map[string]*research.Result) *env {
	t.Helper()
	dir := t.TempDir()
	v := testutil.OpenVault(t, dir)
	q := testutil.OpenQueue(t, t.TempDir(), v)
	r := &testutil.StubResearcher{Results: results}
	p := pipeline.New(r, nil, v, q, testutil.Logger())
	return &env{vault: v, queue: q, research: r, runner: New(q, v, p, testutil.Logger())}
}

func (e *env) enqueue(t *testing.T, displays ...string) {
	t.Helper()
	cs := make([]concept.Concept, len(displays))
	for i, d := range displays {
		cs[i] = concept.New(d)
	}
	if _, err := e.queue.EnqueueAll(cs); err != nil {
		t.Fatal(err)
	}
}

func (e *env) identities(t *testing.T) []string {
	t.Helper()
	items, err := e.queue.List()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Identity
	}
	return out
}

func TestPopAndResearch(t *testing.T) {
	e := newEnv(t, map[string]*research.Result{
		"Walt Disney": {Summary: "Walt Disney founded Disneyland.", Concepts: []string{"Disneyland"}},
	})
	e.enqueue(t, "Walt Disney", "Epcot")

	o, err := e.runner.PopAndResearch(context.Background())
	if err != nil {
		t.Fatalf("PopAndResearch: %v", err)
	}
	if o.Skipped || o.Concept.Identity != "walt disney" || o.Report == nil {
		t.Fatalf("outcome = %+v", o)
	}
	if !e.vault.Exists("walt disney") {
		t.Error("note not written")
	}
	got := e.identities(t)
	if len(got) != 2 || got[0] != "epcot" || got[1] != "disneyland" {
		t.Errorf("queue = %v", got)
	}
}

func TestPopAndResearch_FailureKeepsEntry(t *testing.T) {
	e := newEnv(t, nil)
	e.research.Err = errors.New("timeout")
	e.enqueue(t, "Walt Disney")

	_, err := e.runner.PopAndResearch(context.Background())
	if !errors.Is(err, apperr.ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	if got := e.identities(t); len(got) != 1 || got[0] != "walt disney" {
		t.Errorf("queue = %v, entry should stay at the front", got)
	}
}

func TestPopAndResearch_DropsResearchedEntry(t *testing.T) {
	e := newEnv(t, nil)
	e.enqueue(t, "Epcot")
	// A note appearing after the entry was queued.
	if _, err := pipeline.New(e.research, nil, e.vault, e.queue, testutil.Logger()).Run(context.Background(), "Epcot"); err != nil {
		t.Fatal(err)
	}
	e.research.Calls = nil

	o, err := e.runner.PopAndResearch(context.Background())
	if err != nil {
		t.Fatalf("PopAndResearch: %v", err)
	}
	if !o.Skipped {
		t.Errorf("outcome = %+v, want skipped", o)
	}
	if len(e.research.Calls) != 0 {
		t.Errorf("researched %v again", e.research.Calls)
	}
	if got := e.identities(t); len(got) != 0 {
		t.Errorf("queue = %v", got)
	}
}

func TestPopAndResearch_Empty(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.runner.PopAndResearch(context.Background()); !errors.Is(err, apperr.ErrQueueEmpty) {
		t.Errorf("err = %v, want ErrQueueEmpty", err)
	}
}

func TestDrain(t *testing.T) {
	e := newEnv(t, nil)
	e.enqueue(t, "Alpha", "Beta", "Gamma")

	out, err := e.runner.Drain(context.Background(), 2)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(out) != 2 || out[0].Concept.Display != "Alpha" || out[1].Concept.Display != "Beta" {
		t.Errorf("outcomes = %+v", out)
	}
	if got := e.identities(t); len(got) != 1 || got[0] != "gamma" {
		t.Errorf("queue = %v", got)
	}

	out, err = e.runner.Drain(context.Background(), 5)
	if err != nil {
		t.Fatalf("Drain past end: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("outcomes = %+v", out)
	}
}

func TestDrain_StopsAtFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.enqueue(t, "Alpha", "Beta")
	e.research.Err = errors.New("quota")

	out, err := e.runner.Drain(context.Background(), 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(out) != 1 || len(e.research.Calls) != 1 {
		t.Errorf("outcomes = %+v, calls = %v", out, e.research.Calls)
	}
}

type failingNotes struct{}

func (failingNotes) Has(string) (bool, error) { return false, errors.New("database is locked") }

func TestPopAndResearch_CatalogueErrorKeepsEntry(t *testing.T) {
	e := newEnv(t, nil)
	e.enqueue(t, "Epcot")

	p := pipeline.New(e.research, nil, e.vault, e.queue, testutil.Logger())
	r := New(e.queue, failingNotes{}, p, testutil.Logger())

	if _, err := r.PopAndResearch(context.Background()); err == nil {
		t.Fatal("expected error when the catalogue cannot be read")
	}
	if len(e.research.Calls) != 0 {
		t.Errorf("research ran: %v", e.research.Calls)
	}
	if ids := e.identities(t); len(ids) != 1 || ids[0] != "epcot" {
		t.Errorf("queue = %v", ids)
	}
}
