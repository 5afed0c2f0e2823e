// Package internal wires configuration, stores and collaborators into the
// commands of the deepnote CLI.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/index"
	"github.com/starford/deepnote/internal/mcpserver"
	"github.com/starford/deepnote/internal/pipeline"
	"github.com/starford/deepnote/internal/queue"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/runner"
	"github.com/starford/deepnote/internal/storage"
	"github.com/starford/deepnote/internal/vault"
)

// App holds the stores opened for one command.
type App struct {
	cfg        *Config
	out        io.Writer
	logger     *slog.Logger
	store      *storage.FS
	db         *index.DB
	vault      *vault.Vault
	queue      *queue.Store
	researcher research.Researcher
	classifier research.Classifier
}

// Open loads the vault catalogue and the queue. The caller must Close the App.
func Open(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		// Command output goes to stdout; logs stay on stderr.
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
		slog.SetDefault(logger)
	}
	out := app.out
	if out == nil {
		out = os.Stdout
	}

	logger.Debug("configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("queue_path", cfg.Queue.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("collision_policy", cfg.Pipeline.CollisionPolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	v, err := vault.Open(store, db, logger, vault.WithIgnored(cfg.Vault.Template))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}

	return &App{
		cfg:        cfg,
		out:        out,
		logger:     logger,
		store:      store,
		db:         db,
		vault:      v,
		queue:      queue.Open(cfg.Queue.Path, v),
		researcher: app.researcher,
		classifier: app.classifier,
	}, nil
}

// Close releases the catalogue database.
func (a *App) Close() error {
	return a.db.Close()
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// collaborators builds the OpenAI researcher and classifier on first use,
// so queue bookkeeping works without an API key.
func (a *App) collaborators() (research.Researcher, research.Classifier, error) {
	if a.researcher != nil {
		return a.researcher, a.classifier, nil
	}
	if err := a.cfg.OpenAI.CheckAPIKey(); err != nil {
		return nil, nil, err
	}
	oa, err := research.NewOpenAI(a.cfg.OpenAI.Research(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.researcher, a.classifier = oa, oa
	return oa, oa, nil
}

func (a *App) pipeline() (*pipeline.Pipeline, error) {
	r, c, err := a.collaborators()
	if err != nil {
		return nil, err
	}
	return pipeline.New(r, c, a.vault, a.queue, a.logger, pipeline.WithPolicy(a.cfg.Pipeline.Policy())), nil
}

// Research runs the pipeline once for topic.
func (a *App) Research(ctx context.Context, topic string) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	rep, err := p.Run(ctx, topic)
	if err != nil {
		return err
	}
	a.printReport(rep)
	return nil
}

func (a *App) printReport(rep *pipeline.Report) {
	a.printf("%s\n", rep.Describe(a.cfg.Vault.Path))
	for _, w := range rep.Warnings {
		a.printf("warning: %v\n", w)
	}
}

// Pop researches up to count entries from the front of the queue.
func (a *App) Pop(ctx context.Context, count int) error {
	if count < 1 {
		return errors.New("count must be a positive integer")
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	r := runner.New(a.queue, a.vault, p, a.logger)

	outcomes, err := r.Drain(ctx, count)
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			a.printf("skipped %q: note already exists, removed from queue\n", o.Concept.Display)
		case o.Report != nil:
			a.printReport(o.Report)
		}
	}
	if errors.Is(err, apperr.ErrQueueEmpty) {
		a.printf("queue is empty\n")
		return nil
	}
	if err != nil {
		return err
	}
	if n, lerr := a.queue.Len(); lerr == nil {
		a.printf("%d concept(s) remaining in queue\n", n)
	}
	return nil
}

// List prints the queue, front first.
func (a *App) List() error {
	items, err := a.queue.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		a.printf("queue is empty\n")
		return nil
	}
	a.printf("current queue:\n")
	for i, c := range items {
		a.printf("%d. %s\n", i+1, c.Display)
	}
	return nil
}

// Clear empties the queue.
func (a *App) Clear() error {
	if err := a.queue.Clear(); err != nil {
		return err
	}
	a.printf("queue cleared\n")
	return nil
}

// Check reports whether a note exists for topic.
func (a *App) Check(topic string) error {
	id := concept.Normalize(topic)
	if id == "" {
		return fmt.Errorf("topic %q: %w", topic, apperr.ErrInvalidConcept)
	}
	e, err := a.vault.Lookup(id)
	if errors.Is(err, apperr.ErrNotFound) {
		a.printf("topic %q does not exist yet\n", topic)
		return nil
	}
	if err != nil {
		return err
	}
	a.printf("topic %q already exists as %q at %s\n", topic, e.Title, filepath.Join(a.cfg.Vault.Path, filepath.FromSlash(e.Path)))
	return nil
}

// Recover queues the new concepts of an already written note.
func (a *App) Recover(ctx context.Context, topic string) error {
	p := pipeline.New(nil, nil, a.vault, a.queue, a.logger)
	rep, err := p.Recover(ctx, topic)
	if err != nil {
		return err
	}
	a.printf("recovered %q: queued %d of %d concept(s)\n", rep.Title, len(rep.Queued), len(rep.Discovered))
	return nil
}

// Doctor checks that the tool is ready to run and prints one line per check.
func (a *App) Doctor(ctx context.Context) error {
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			a.printf("FAIL  %s: %v\n", name, err)
			return
		}
		a.printf("ok    %s\n", name)
	}

	report("openai api key", a.cfg.OpenAI.CheckAPIKey())

	probe := filepath.Join(a.store.Root(), ".deepnote-doctor")
	err := storage.WriteFile(probe, []byte("ok\n"))
	if err == nil {
		err = os.Remove(probe)
	}
	report("vault writable ("+a.store.Root()+")", err)

	if ok, _ := a.store.Exists(a.cfg.Vault.Template); ok {
		a.printf("ok    template %s\n", a.cfg.Vault.Template)
	} else {
		a.printf("note  template %s not found; notes use the built-in layout\n", a.cfg.Vault.Template)
	}

	created, err := a.queue.Ensure()
	if created {
		a.printf("note  queue file created at %s\n", a.queue.Path())
	}
	report("queue file ("+a.queue.Path()+")", err)

	entries, err := a.vault.ListAll()
	if err == nil {
		a.printf("ok    catalogue: %d note(s)\n", len(entries))
	} else {
		report("catalogue", err)
	}

	if failed > 0 {
		return fmt.Errorf("doctor: %d check(s) failed", failed)
	}
	return nil
}

// ServeMCP runs the MCP server on stdio. A watcher keeps the catalogue in
// step with edits made to the vault while the server runs.
func (a *App) ServeMCP(ctx context.Context) error {
	var (
		p mcpserver.Pipeline
		d mcpserver.Drainer
	)
	if pl, err := a.pipeline(); err == nil {
		p, d = pl, runner.New(a.queue, a.vault, pl, a.logger)
	} else {
		a.logger.Warn("mcp: research tools disabled", slog.String("error", err.Error()))
	}
	srv := mcpserver.New(a.vault, a.queue, p, d, a.logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return index.Watch(gCtx, a.db, a.store, a.store.Root(), a.logger, a.vault.Ignored, func(kind, path string) {
			a.logger.Debug("mcp: vault changed", slog.String("kind", kind), slog.String("path", path))
		})
	})

	g.Go(func() error {
		a.logger.Info("mcp: serving on stdio")
		err := srv.Listen(gCtx, os.Stdin, os.Stdout)
		// Stdin closed or signal received: stop the watcher too.
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("mcp: stopped with error", slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("mcp: stopped")
	return nil
}
