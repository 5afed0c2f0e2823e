// Package research holds the model-backed collaborators of the pipeline:
// the researcher that writes a note's raw content and the classifier that
// picks related existing notes.
package research

import (
	"context"
	"strings"
)

// Result is the raw material for one note.
type Result struct {
	Summary       string   `json:"summary"`
	Content       string   `json:"content"`
	ActionItems   []string `json:"action_items"`
	Questions     []string `json:"questions"`
	ExternalLinks []string `json:"external_links"`
	// Concepts are candidate phrases the model thinks deserve their own
	// note. They are linked only where they occur in the text.
	Concepts []string `json:"concepts"`
}

// Empty reports whether the result carries no usable text.
func (r *Result) Empty() bool {
	return r == nil || (strings.TrimSpace(r.Summary) == "" && strings.TrimSpace(r.Content) == "")
}

// Researcher produces research content for a topic.
type Researcher interface {
	Research(ctx context.Context, topic string) (*Result, error)
}

// Classifier picks which of titles are topically relevant to text.
type Classifier interface {
	Classify(ctx context.Context, text string, titles []string) ([]string, error)
}

// ResearcherFunc adapts a function to Researcher.
type ResearcherFunc func(ctx context.Context, topic string) (*Result, error)

// Research calls f.
func (f ResearcherFunc) Research(ctx context.Context, topic string) (*Result, error) {
	return f(ctx, topic)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string, titles []string) ([]string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, text string, titles []string) ([]string, error) {
	return f(ctx, text, titles)
}
