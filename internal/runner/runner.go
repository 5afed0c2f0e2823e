// Package runner researches queued concepts one at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/pipeline"
)

// Queue is the pending-concept store.
type Queue interface {
	Peek() (concept.Concept, error)
	Remove(identity string) (bool, error)
}

// Notes reports whether a concept was already researched.
type Notes interface {
	Has(identity string) (bool, error)
}

// Pipeline researches a single topic.
type Pipeline interface {
	Run(ctx context.Context, topic string) (*pipeline.Report, error)
}

// Outcome is the result of processing one queue entry.
type Outcome struct {
	Concept concept.Concept
	// Skipped is set when the entry already had a note and was dropped.
	Skipped bool
	Report  *pipeline.Report
}

// Runner pops queue entries into the pipeline.
type Runner struct {
	queue    Queue
	notes    Notes
	pipeline Pipeline
	logger   *slog.Logger
}

// New creates a Runner.
func New(q Queue, notes Notes, p Pipeline, logger *slog.Logger) *Runner {
	return &Runner{queue: q, notes: notes, pipeline: p, logger: logger}
}

// PopAndResearch researches the front entry. The entry leaves the queue
// only after its note was written, so a failed run can be retried.
func (r *Runner) PopAndResearch(ctx context.Context) (*Outcome, error) {
	c, err := r.queue.Peek()
	if err != nil {
		return nil, err
	}

	known, err := r.notes.Has(c.Identity)
	if err != nil {
		return &Outcome{Concept: c}, fmt.Errorf("runner: check %q: %w", c.Identity, err)
	}
	if known {
		if _, err := r.queue.Remove(c.Identity); err != nil {
			return nil, err
		}
		r.logger.Info("runner: dropped already researched entry", slog.String("identity", c.Identity))
		return &Outcome{Concept: c, Skipped: true}, nil
	}

	r.logger.Info("runner: researching", slog.String("topic", c.Display))
	rep, err := r.pipeline.Run(ctx, c.Display)
	if err != nil {
		return &Outcome{Concept: c}, err
	}
	if _, err := r.queue.Remove(c.Identity); err != nil {
		return &Outcome{Concept: c, Report: rep}, fmt.Errorf("runner: remove %q: %w", c.Identity, err)
	}
	return &Outcome{Concept: c, Report: rep}, nil
}

// Drain processes up to n entries. It stops at the first failure or when
// the queue runs out; an empty queue is not an error once something ran.
func (r *Runner) Drain(ctx context.Context, n int) ([]Outcome, error) {
	var out []Outcome
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o, err := r.PopAndResearch(ctx)
		if errors.Is(err, apperr.ErrQueueEmpty) && len(out) > 0 {
			return out, nil
		}
		if o != nil {
			out = append(out, *o)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
