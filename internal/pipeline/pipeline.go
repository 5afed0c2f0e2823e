// Package pipeline runs one research invocation: fetch, resolve links,
// render, persist the note, then queue the new concepts.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/linker"
	"github.com/starford/deepnote/internal/models"
	"github.com/starford/deepnote/internal/parser"
	"github.com/starford/deepnote/internal/render"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/vault"
)

// MaxTopicLength bounds a topic in runes.
const MaxTopicLength = 200

// State is a step of one invocation.
type State string

const (
	StateFetching   State = "fetching"
	StateResolving  State = "resolving"
	StateRendering  State = "rendering"
	StatePersisting State = "persisting"
	StateEnqueuing  State = "enqueuing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Vault is the note store the pipeline reads and writes.
type Vault interface {
	linker.Vault
	Get(identity string) (*models.Note, error)
	Place(title string, policy vault.Policy) (*vault.Placement, error)
	Put(note *models.Note) (*models.Note, error)
}

// Queue receives the concepts discovered by a run. The researched topic
// itself leaves the queue once its note is written.
type Queue interface {
	EnqueueAll(cs []concept.Concept) ([]concept.Concept, error)
	Remove(identity string) (bool, error)
}

// TransitionFunc observes state changes.
type TransitionFunc func(ctx context.Context, from, to State)

// Report describes a finished invocation.
type Report struct {
	Identity string
	Title    string
	Path     string
	Action   vault.Action
	// Unchanged is set when the note on disk already had this content.
	Unchanged bool
	// Queued are the concepts actually added to the queue.
	Queued []concept.Concept
	// Discovered are all new concepts the run linked, queued or not.
	Discovered []concept.Concept
	// Related are the titles of existing notes linked from the new note.
	Related  []string
	Warnings []error
}

// Pipeline wires the collaborators of a research run.
type Pipeline struct {
	researcher   research.Researcher
	resolver     *linker.Resolver
	vault        Vault
	queue        Queue
	policy       vault.Policy
	logger       *slog.Logger
	now          func() time.Time
	onTransition TransitionFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the collision policy. The default is vault.PolicySkip.
func WithPolicy(p vault.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithTransitionHook registers fn to observe state changes.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(pl *Pipeline) { pl.onTransition = fn }
}

// New creates a Pipeline. classifier may be nil.
func New(researcher research.Researcher, classifier research.Classifier, v Vault, q Queue, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		researcher: researcher,
		resolver:   linker.New(v, classifier, logger),
		vault:      v,
		queue:      q,
		policy:     vault.PolicySkip,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidateTopic checks that topic can become a note.
func ValidateTopic(topic string) error {
	err := validation.Validate(topic,
		validation.Required,
		validation.RuneLength(1, MaxTopicLength),
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if strings.ContainsAny(s, "\r\n") {
				return errors.New("must be a single line")
			}
			if concept.Normalize(s) == "" {
				return errors.New("must contain a letter or digit")
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("topic %q: %w: %v", topic, apperr.ErrInvalidConcept, err)
	}
	return nil
}

// run is the state of one invocation.
type run struct {
	p     *Pipeline
	ctx   context.Context
	topic string
	state State
}

func (r *run) to(next State) {
	prev := r.state
	r.state = next
	r.p.logger.Debug("pipeline: transition",
		slog.String("topic", r.topic),
		slog.String("from", string(prev)),
		slog.String("to", string(next)))
	if r.p.onTransition != nil {
		r.p.onTransition(r.ctx, prev, next)
	}
}

func (r *run) fail(err error) error {
	stage := r.state
	r.to(StateFailed)
	r.p.logger.Error("pipeline: failed",
		slog.String("topic", r.topic),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	return &apperr.StageError{Stage: string(stage), Err: err}
}

// Run researches topic and persists the note. Errors are *apperr.StageError.
// Nothing is queued unless the note was written first.
func (p *Pipeline) Run(ctx context.Context, topic string) (*Report, error) {
	topic = strings.Join(strings.Fields(topic), " ")
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	r := &run{p: p, ctx: ctx, topic: topic}

	r.to(StateFetching)
	res, err := p.researcher.Research(ctx, topic)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && res.Empty() {
		err = errors.New("empty research result")
	}
	if err != nil {
		if !errors.Is(err, apperr.ErrFetch) {
			err = fmt.Errorf("%w: %s: %v", apperr.ErrFetch, research.Cause(err), err)
		}
		return nil, r.fail(err)
	}

	r.to(StateResolving)
	texts := make([]string, 0, 2+len(res.ActionItems)+len(res.Questions))
	texts = append(texts, res.Summary, res.Content)
	texts = append(texts, res.ActionItems...)
	texts = append(texts, res.Questions...)
	resolved, err := p.resolver.Resolve(ctx, linker.Request{
		Topic:      topic,
		Texts:      texts,
		Candidates: res.Concepts,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	nActions := len(res.ActionItems)

	r.to(StateRendering)
	now := render.Timestamp(p.now())
	in := render.Input{
		Title:         topic,
		Tags:          render.DefaultTags(topic),
		Created:       now,
		Modified:      now,
		Summary:       resolved.Texts[0],
		Content:       resolved.Texts[1],
		ActionItems:   resolved.Texts[2 : 2+nActions],
		Questions:     resolved.Texts[2+nActions:],
		ExternalLinks: res.ExternalLinks,
		Related:       append(append([]models.Link{}, resolved.Existing...), resolved.Related...),
		New:           resolved.New,
	}
	content, err := render.Render(in)
	if err != nil {
		return nil, r.fail(err)
	}

	r.to(StatePersisting)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	report, err := p.persist(topic, in, content)
	if err != nil {
		return nil, r.fail(err)
	}

	r.to(StateEnqueuing)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	if _, err := p.queue.Remove(concept.Normalize(topic)); err != nil {
		return nil, r.fail(err)
	}
	queued, err := p.queue.EnqueueAll(resolved.New)
	if err != nil {
		return nil, r.fail(err)
	}

	r.to(StateDone)
	report.Queued = queued
	report.Discovered = resolved.New
	report.Warnings = resolved.Warnings
	for _, l := range in.Related {
		report.Related = append(report.Related, l.Target)
	}
	p.logger.Info("pipeline: note written",
		slog.String("identity", report.Identity),
		slog.String("path", report.Path),
		slog.String("action", string(report.Action)),
		slog.Int("queued", len(queued)))
	return report, nil
}

// persist applies the collision policy and writes the note. The body is
// rendered again when the placement changes the title or keeps an older
// created time.
func (p *Pipeline) persist(topic string, in render.Input, content string) (*Report, error) {
	place, err := p.vault.Place(topic, p.policy)
	if errors.Is(err, apperr.ErrCollision) && p.policy == vault.PolicySkip {
		// Writing the same note twice is not a collision.
		if existing, gerr := p.vault.Get(concept.Normalize(topic)); gerr == nil && bytes.Equal(existing.Content, []byte(content)) {
			return &Report{
				Identity:  existing.Identity,
				Title:     existing.Title,
				Path:      existing.Path,
				Action:    vault.ActionUnchanged,
				Unchanged: true,
			}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	switch place.Action {
	case vault.ActionOverwrite:
		in.Title = place.Title
		if !place.Existing.Created.IsZero() {
			in.Created = place.Existing.Created
		}
	case vault.ActionVersion:
		in.Title = place.Title
		in.Aliases = []string{topic}
	}
	if in.Title != topic || in.Aliases != nil || !in.Created.Equal(in.Modified) {
		if content, err = render.Render(in); err != nil {
			return nil, err
		}
	}

	note := &models.Note{
		Identity: place.Identity,
		Title:    place.Title,
		Path:     place.Path,
		Tags:     in.Tags,
		Created:  in.Created,
		Modified: in.Modified,
		Content:  []byte(content),
	}
	unchanged := place.Action == vault.ActionOverwrite && bytes.Equal(place.Existing.Content, note.Content)
	if _, err := p.vault.Put(note); err != nil {
		return nil, err
	}
	action := place.Action
	if unchanged {
		action = vault.ActionUnchanged
	}
	return &Report{
		Identity:  note.Identity,
		Title:     note.Title,
		Path:      note.Path,
		Action:    action,
		Unchanged: unchanged,
	}, nil
}

// Recover queues the new concepts recorded in an already persisted note.
// It is the enqueue-only half of Run and never rewrites the note.
func (p *Pipeline) Recover(ctx context.Context, topic string) (*Report, error) {
	topic = strings.Join(strings.Fields(topic), " ")
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	r := &run{p: p, ctx: ctx, topic: topic, state: StatePersisting}

	note, err := p.vault.Get(concept.Normalize(topic))
	if err != nil {
		return nil, fmt.Errorf("pipeline: recover %q: %w", topic, err)
	}
	res, err := parser.Parse(note.Content)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recover %q: %w", topic, err)
	}

	set := concept.NewSet()
	for _, target := range parser.SectionLinks(res.Body, render.HeadingNewConcepts) {
		if c := concept.New(target); c.Identity != note.Identity {
			set.Add(c)
		}
	}

	r.to(StateEnqueuing)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	queued, err := p.queue.EnqueueAll(set.Items())
	if err != nil {
		return nil, r.fail(err)
	}
	r.to(StateDone)

	p.logger.Info("pipeline: recovered",
		slog.String("identity", note.Identity),
		slog.Int("queued", len(queued)))
	return &Report{
		Identity:   note.Identity,
		Title:      note.Title,
		Path:       note.Path,
		Unchanged:  true,
		Queued:     queued,
		Discovered: set.Items(),
	}, nil
}

// Describe is the one-line user report for r. root is prefixed to the
// vault-relative note path when set.
func (r *Report) Describe(root string) string {
	p := r.Path
	if root != "" {
		p = filepath.Join(root, filepath.FromSlash(r.Path))
	}
	verb := "researched"
	if r.Unchanged {
		verb = "unchanged"
	}
	return fmt.Sprintf("%s %q (identity %s) -> %s; queued %d concept(s)", verb, r.Title, r.Identity, p, len(r.Queued))
}
