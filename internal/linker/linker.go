// Package linker finds concept mentions in generated research text, links
// them to existing notes or marks them as new concepts, and asks the
// classifier for related notes that were never mentioned.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/models"
	"github.com/starford/deepnote/internal/parser"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/vault"
)

// Vault is the part of the vault the resolver reads.
type Vault interface {
	Lookup(identity string) (*vault.Entry, error)
	ListAll() ([]vault.Entry, error)
}

// Request is one resolution call.
type Request struct {
	// Topic is the note being written. It is never linked or queued.
	Topic string
	// Texts are rewritten independently and returned in the same order.
	Texts []string
	// Candidates are phrases the research collaborator flagged as concepts.
	Candidates []string
}

// Result is the outcome of a resolution call.
type Result struct {
	Texts []string
	// Existing are links to notes in the vault, in first-seen order.
	Existing []models.Link
	// New are concepts without a note, deduplicated by identity.
	New []concept.Concept
	// Related are existing notes the classifier judged relevant.
	Related  []models.Link
	Warnings []error
}

// Resolver rewrites concept mentions into wiki links.
type Resolver struct {
	vault      Vault
	classifier research.Classifier
	logger     *slog.Logger
}

// New creates a Resolver. classifier may be nil, in which case connection
// discovery is skipped.
func New(v Vault, classifier research.Classifier, logger *slog.Logger) *Resolver {
	return &Resolver{vault: v, classifier: classifier, logger: logger}
}

// Resolve rewrites every mention in req.Texts. It fails with ErrResolution
// when a text cannot be scanned; classifier failures only add a warning.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	for i, text := range req.Texts {
		if err := validate(text); err != nil {
			return nil, fmt.Errorf("linker: text %d: %w: %v", i, apperr.ErrResolution, err)
		}
	}

	s := &session{
		r:        r,
		topic:    concept.Normalize(req.Topic),
		entries:  make(map[string]*vault.Entry),
		existing: make(map[string]struct{}),
		fresh:    concept.NewSet(),
	}
	s.candidates = s.prepareCandidates(req.Candidates)

	res := &Result{Texts: make([]string, len(req.Texts))}
	for i, text := range req.Texts {
		out, err := s.rewrite(text)
		if err != nil {
			return nil, err
		}
		res.Texts[i] = out
	}
	res.Existing = s.links
	res.New = s.fresh.Items()

	related, err := r.discover(ctx, s, strings.Join(res.Texts, "\n\n"))
	if err != nil {
		r.logger.Warn("linker: connection discovery unavailable", slog.String("topic", req.Topic), slog.String("error", err.Error()))
		res.Warnings = append(res.Warnings, err)
	}
	res.Related = related

	r.logger.Debug("linker: resolved",
		slog.String("topic", req.Topic),
		slog.Int("existing", len(res.Existing)),
		slog.Int("new", len(res.New)),
		slog.Int("related", len(res.Related)))
	return res, nil
}

// session holds the state of one Resolve call.
type session struct {
	r          *Resolver
	topic      string
	candidates []string
	entries    map[string]*vault.Entry
	existing   map[string]struct{}
	links      []models.Link
	fresh      *concept.Set
}

// prepareCandidates drops empty, duplicate and self-referencing phrases and
// orders the rest longest first so the longest phrase wins on overlap.
func (s *session) prepareCandidates(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.Join(strings.Fields(c), " ")
		id := concept.Normalize(c)
		if id == "" || id == s.topic {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// rewrite walks text, keeping explicit markers as mentions and searching
// the plain runs between them for candidate phrases.
func (s *session) rewrite(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, m := range parser.ExtractLinkSpans(text) {
		if err := s.scanPlain(&b, text[pos:m[0]]); err != nil {
			return "", err
		}
		inner := text[m[2]:m[3]]
		target, alias := parser.SplitLink(inner)
		visible := alias
		if visible == "" {
			visible = target
		}
		if err := s.mention(&b, target, visible, text[m[0]:m[1]]); err != nil {
			return "", err
		}
		pos = m[1]
	}
	if err := s.scanPlain(&b, text[pos:]); err != nil {
		return "", err
	}
	return b.String(), nil
}

// scanPlain links candidate phrases in plain. Inline Markdown links are
// copied unchanged.
func (s *session) scanPlain(b *strings.Builder, plain string) error {
	if len(s.candidates) == 0 {
		b.WriteString(plain)
		return nil
	}
	pos := 0
	for _, m := range parser.ExtractMarkdownLinkSpans(plain) {
		if err := s.scanRun(b, plain[pos:m[0]]); err != nil {
			return err
		}
		b.WriteString(plain[m[0]:m[1]])
		pos = m[1]
	}
	return s.scanRun(b, plain[pos:])
}

func (s *session) scanRun(b *strings.Builder, plain string) error {
	last := 0
	prev := rune(-1)
	for i := 0; i < len(plain); {
		if isWord(prev) {
			r, size := utf8.DecodeRuneInString(plain[i:])
			prev = r
			i += size
			continue
		}
		cand, matched := s.matchAt(plain, i)
		if matched == "" {
			r, size := utf8.DecodeRuneInString(plain[i:])
			prev = r
			i += size
			continue
		}
		b.WriteString(plain[last:i])
		if err := s.mention(b, cand, matched, matched); err != nil {
			return err
		}
		i += len(matched)
		last = i
		prev, _ = utf8.DecodeLastRuneInString(matched)
	}
	b.WriteString(plain[last:])
	return nil
}

// matchAt returns the longest candidate starting at i and ending on a word
// boundary, together with its in-text spelling.
func (s *session) matchAt(plain string, i int) (string, string) {
	for _, c := range s.candidates {
		end := i + len(c)
		if end > len(plain) || (end < len(plain) && !utf8.RuneStart(plain[end])) {
			continue
		}
		if !strings.EqualFold(plain[i:end], c) {
			continue
		}
		if end < len(plain) {
			next, _ := utf8.DecodeRuneInString(plain[end:])
			if isWord(next) {
				continue
			}
		}
		return c, plain[i:end]
	}
	return "", ""
}

// mention writes the link for one mention. original is written unchanged
// when the target has no identity.
func (s *session) mention(b *strings.Builder, target, visible, original string) error {
	id := concept.Normalize(target)
	if id == "" {
		b.WriteString(original)
		return nil
	}
	if id == s.topic {
		b.WriteString(visible)
		return nil
	}

	entry, err := s.lookup(id)
	if err != nil {
		return err
	}
	if entry != nil {
		if _, ok := s.existing[id]; !ok {
			s.existing[id] = struct{}{}
			s.links = append(s.links, models.Link{Kind: models.LinkExisting, Identity: id, Target: entry.Title})
		}
		b.WriteString(wikiLink(entry.Title, visible))
		return nil
	}

	s.fresh.Add(concept.New(target))
	c, _ := s.fresh.Get(id)
	b.WriteString(wikiLink(c.Display, visible))
	return nil
}

func (s *session) lookup(id string) (*vault.Entry, error) {
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	e, err := s.r.vault.Lookup(id)
	if errors.Is(err, apperr.ErrNotFound) {
		s.entries[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("linker: lookup %q: %w: %v", id, apperr.ErrResolution, err)
	}
	s.entries[id] = e
	return e, nil
}

// discover asks the classifier which other notes relate to text.
func (r *Resolver) discover(ctx context.Context, s *session, text string) ([]models.Link, error) {
	if r.classifier == nil {
		return nil, nil
	}
	entries, err := r.vault.ListAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrClassificationUnavailable, err)
	}
	byID := make(map[string]vault.Entry, len(entries))
	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Identity == s.topic {
			continue
		}
		if _, linked := s.existing[e.Identity]; linked {
			continue
		}
		byID[e.Identity] = e
		titles = append(titles, e.Title)
	}
	if len(titles) == 0 {
		return nil, nil
	}

	picked, err := r.classifier.Classify(ctx, text, titles)
	if err != nil {
		if errors.Is(err, apperr.ErrClassificationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrClassificationUnavailable, err)
	}

	var out []models.Link
	seen := make(map[string]struct{})
	for _, title := range picked {
		id := concept.Normalize(title)
		e, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, models.Link{Kind: models.LinkExisting, Identity: id, Target: e.Title})
	}
	return out, nil
}

func wikiLink(target, visible string) string {
	if visible == "" || visible == target {
		return "[[" + target + "]]"
	}
	return "[[" + target + "|" + visible + "]]"
}

func isWord(r rune) bool {
	return r >= 0 && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// validate rejects text that cannot be scanned: invalid UTF-8, a "[["
// without its closing "]]", or brackets inside a marker.
func validate(text string) error {
	if !utf8.ValidString(text) {
		return errors.New("invalid utf-8")
	}
	rest := text
	for {
		open := strings.Index(rest, "[[")
		if open < 0 {
			return nil
		}
		rest = rest[open+2:]
		end := strings.Index(rest, "]]")
		if end < 0 {
			return errors.New("unterminated [[ marker")
		}
		if strings.Contains(rest[:end], "[[") {
			return errors.New("nested [[ marker")
		}
		if strings.ContainsAny(rest[:end], "[]") {
			return errors.New("stray bracket inside [[ marker")
		}
		rest = rest[end+2:]
	}
}
