package linker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/vault"
)

type fakeVault []vault.Entry

func newFakeVault(titles ...string) fakeVault {
	v := make(fakeVault, len(titles))
	for i, t := range titles {
		v[i] = vault.Entry{Identity: concept.Normalize(t), Title: t, Path: t + ".md"}
	}
	return v
}

func (f fakeVault) Lookup(identity string) (*vault.Entry, error) {
	for i := range f {
		if f[i].Identity == identity {
			return &f[i], nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f fakeVault) ListAll() ([]vault.Entry, error) { return f, nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func resolve(t *testing.T, v Vault, c research.Classifier, req Request) *Result {
	t.Helper()
	res, err := New(v, c, quietLogger()).Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return res
}

func TestResolve_ExistingAndNewFromCandidates(t *testing.T) {
	res := resolve(t, newFakeVault("Disneyland"), nil, Request{
		Topic:      "Walt Disney World",
		Texts:      []string{"Unlike disneyland, the resort opened with the Magic Kingdom."},
		Candidates: []string{"disneyland", "Magic Kingdom"},
	})

	want := "Unlike [[Disneyland|disneyland]], the resort opened with the [[Magic Kingdom]]."
	if res.Texts[0] != want {
		t.Errorf("text =\n%s\nwant\n%s", res.Texts[0], want)
	}
	if len(res.Existing) != 1 || res.Existing[0].Target != "Disneyland" || res.Existing[0].Identity != "disneyland" {
		t.Errorf("existing = %+v", res.Existing)
	}
	if len(res.New) != 1 || res.New[0].Identity != "magic kingdom" || res.New[0].Display != "Magic Kingdom" {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_ExplicitMarkers(t *testing.T) {
	res := resolve(t, newFakeVault("Disneyland"), nil, Request{
		Topic: "Walt Disney World",
		Texts: []string{"See [[disneyland]] and [[Magic Kingdom|the park]]."},
	})

	want := "See [[Disneyland|disneyland]] and [[Magic Kingdom|the park]]."
	if res.Texts[0] != want {
		t.Errorf("text = %q, want %q", res.Texts[0], want)
	}
	if len(res.New) != 1 || res.New[0].Identity != "magic kingdom" {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_FirstSeenDisplayWins(t *testing.T) {
	res := resolve(t, newFakeVault(), nil, Request{
		Topic: "Parks",
		Texts: []string{
			"First [[Magic Kingdom]].",
			"Then [[magic-kingdom]] again.",
		},
	})

	if len(res.New) != 1 || res.New[0].Display != "Magic Kingdom" {
		t.Fatalf("new = %+v", res.New)
	}
	if res.Texts[1] != "Then [[Magic Kingdom|magic-kingdom]] again." {
		t.Errorf("second text = %q", res.Texts[1])
	}
}

func TestResolve_SelfMentionIsPlain(t *testing.T) {
	res := resolve(t, newFakeVault(), nil, Request{
		Topic:      "Disneyland",
		Texts:      []string{"[[Disneyland]] is in Anaheim. DISNEYLAND opened in 1955."},
		Candidates: []string{"Disneyland", "Anaheim"},
	})

	if res.Texts[0] != "Disneyland is in [[Anaheim]]. DISNEYLAND opened in 1955." {
		t.Errorf("text = %q", res.Texts[0])
	}
	if len(res.New) != 1 || res.New[0].Identity != "anaheim" {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_WordBoundariesAndLongestMatch(t *testing.T) {
	res := resolve(t, newFakeVault(), nil, Request{
		Topic:      "Resorts",
		Texts:      []string{"Walt Disney World differs from Walt Disney himself; Disneyesque is no match."},
		Candidates: []string{"Walt Disney", "Walt Disney World", "Disney"},
	})

	want := "[[Walt Disney World]] differs from [[Walt Disney]] himself; Disneyesque is no match."
	if res.Texts[0] != want {
		t.Errorf("text =\n%s\nwant\n%s", res.Texts[0], want)
	}
	if len(res.New) != 2 || res.New[0].Identity != "walt disney world" || res.New[1].Identity != "walt disney" {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_CandidateNotInTextIsIgnored(t *testing.T) {
	res := resolve(t, newFakeVault(), nil, Request{
		Topic:      "Disneyland",
		Texts:      []string{"A park in California."},
		Candidates: []string{"Epcot"},
	})
	if len(res.New) != 0 {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_MarkdownLinksUntouched(t *testing.T) {
	res := resolve(t, newFakeVault(), nil, Request{
		Topic:      "Disneyland",
		Texts:      []string{"Founded by [Walt Disney](https://example.com/walt) and ![Walt Disney](img.png); Walt Disney said so."},
		Candidates: []string{"Walt Disney"},
	})

	want := "Founded by [Walt Disney](https://example.com/walt) and ![Walt Disney](img.png); [[Walt Disney]] said so."
	if res.Texts[0] != want {
		t.Errorf("text =\n%s\nwant\n%s", res.Texts[0], want)
	}
	if len(res.New) != 1 || res.New[0].Identity != "walt disney" {
		t.Errorf("new = %+v", res.New)
	}
}

func TestResolve_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"unterminated", "see [[Magic Kingdom"},
		{"nested", "see [[Magic [[Kingdom]]"},
		{"invalid utf8", "bad \xff byte"},
		{"stray bracket", "see [[a]b]] here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newFakeVault(), nil, quietLogger()).Resolve(context.Background(), Request{
				Topic: "X1",
				Texts: []string{tt.text},
			})
			if !errors.Is(err, apperr.ErrResolution) {
				t.Errorf("err = %v, want ErrResolution", err)
			}
		})
	}
}

func TestResolve_ConnectionDiscovery(t *testing.T) {
	v := newFakeVault("Disneyland", "Epcot", "Walt Disney", "Topic Note")
	var offered []string
	classifier := research.ClassifierFunc(func(_ context.Context, _ string, titles []string) ([]string, error) {
		offered = titles
		return []string{"epcot", "Unknown Note", "Epcot"}, nil
	})

	res := resolve(t, v, classifier, Request{
		Topic: "Topic Note",
		Texts: []string{"Mentions [[Disneyland]]."},
	})

	for _, title := range offered {
		if title == "Disneyland" || title == "Topic Note" {
			t.Errorf("classifier was offered %q", title)
		}
	}
	if len(res.Related) != 1 || res.Related[0].Target != "Epcot" {
		t.Errorf("related = %+v", res.Related)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolve_ClassifierFailureIsWarning(t *testing.T) {
	classifier := research.ClassifierFunc(func(context.Context, string, []string) ([]string, error) {
		return nil, errors.New("quota exceeded")
	})

	res := resolve(t, newFakeVault("Disneyland", "Epcot"), classifier, Request{
		Topic: "Magic Kingdom",
		Texts: []string{"Near [[Disneyland]]."},
	})

	if len(res.Existing) != 1 {
		t.Errorf("existing = %+v", res.Existing)
	}
	if len(res.Related) != 0 {
		t.Errorf("related = %+v", res.Related)
	}
	if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], apperr.ErrClassificationUnavailable) {
		t.Errorf("warnings = %v", res.Warnings)
	}
}
