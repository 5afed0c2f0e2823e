package internal

import (
	"io"
	"log/slog"

	"github.com/starford/deepnote/internal/research"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	out        io.Writer
	logger     *slog.Logger
	researcher research.Researcher
	classifier research.Classifier
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOutput sets where command results are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithLogger replaces the JSON logger on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithResearch replaces the OpenAI collaborators.
func WithResearch(r research.Researcher, c research.Classifier) Option {
	return func(a *application) {
		a.researcher = r
		a.classifier = c
	}
}
