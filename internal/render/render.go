// Package render produces the Markdown text of a research note: a YAML
// frontmatter header followed by a fixed set of sections.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/models"
)

// Placeholder stands in for an empty section.
const Placeholder = "- "

// Section headings, in order.
const (
	HeadingSummary       = "Summary"
	HeadingContent       = "Note Content"
	HeadingActionItems   = "Action Items"
	HeadingQuestions     = "Questions & Learnings"
	HeadingLinks         = "Links & References"
	HeadingRelated       = "Related Notes"
	HeadingNewConcepts   = "New Concepts"
	HeadingExternalLinks = "External Links"
)

// Frontmatter is the structured note header.
type Frontmatter struct {
	Title    string    `yaml:"title"`
	Aliases  []string  `yaml:"aliases"`
	Tags     []string  `yaml:"tags"`
	Created  time.Time `yaml:"created"`
	Modified time.Time `yaml:"modified"`
	NoteType string    `yaml:"note_type"`
}

// Input is everything a note is rendered from.
type Input struct {
	Title   string
	Aliases []string
	// Tags defaults to DefaultTags(Title) when nil.
	Tags     []string
	Created  time.Time
	Modified time.Time
	// NoteType defaults to research.
	NoteType string

	Summary       string
	Content       string
	ActionItems   []string
	Questions     []string
	ExternalLinks []string

	// Related are links to notes that exist.
	Related []models.Link
	// New are concepts queued for research.
	New []concept.Concept
}

var bodyTmpl = template.Must(template.New("note").Funcs(template.FuncMap{
	"text":    text,
	"bullets": bullets,
	"related": related,
	"fresh":   fresh,
}).Parse(`# {{.Title}}

## Summary
{{text .Summary}}

## Note Content
{{text .Content}}

## Action Items
{{bullets .ActionItems}}

## Questions & Learnings
{{bullets .Questions}}

## Links & References

### Related Notes
{{related .Related}}

### New Concepts
{{fresh .New}}

### External Links
{{bullets .ExternalLinks}}
`))

// Render returns the full note text. An empty title or a template failure
// is ErrRender.
func Render(in Input) (string, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return "", fmt.Errorf("render: %w: empty title", apperr.ErrRender)
	}
	if in.Tags == nil {
		in.Tags = DefaultTags(in.Title)
	}
	if in.Aliases == nil {
		in.Aliases = []string{}
	}
	if in.NoteType == "" {
		in.NoteType = models.NoteTypeResearch
	}
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	if in.Modified.IsZero() {
		in.Modified = in.Created
	}

	fm := Frontmatter{
		Title:    in.Title,
		Aliases:  in.Aliases,
		Tags:     in.Tags,
		Created:  Timestamp(in.Created),
		Modified: Timestamp(in.Modified),
		NoteType: in.NoteType,
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("render: frontmatter: %w: %v", apperr.ErrRender, err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	if err := bodyTmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render: body: %w: %v", apperr.ErrRender, err)
	}
	return buf.String(), nil
}

// ParseFrontmatter reads the header written by Render.
func ParseFrontmatter(content string) (*Frontmatter, error) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return nil, errors.New("render: no frontmatter")
	}
	block, _, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, errors.New("render: unterminated frontmatter")
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, fmt.Errorf("render: frontmatter: %w", err)
	}
	return &fm, nil
}

// DefaultTags are the tags of a freshly researched note.
func DefaultTags(title string) []string {
	tags := []string{models.NoteTypeResearch}
	if t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_"); t != "" && t != models.NoteTypeResearch {
		tags = append(tags, t)
	}
	return tags
}

// Timestamp normalizes t to the precision stored in frontmatter.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func text(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Placeholder
	}
	return s
}

func bullets(items []string) string {
	var lines []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			lines = append(lines, "- "+strings.TrimPrefix(it, "- "))
		}
	}
	if len(lines) == 0 {
		return Placeholder
	}
	return strings.Join(lines, "\n")
}

func related(links []models.Link) string {
	items := make([]string, len(links))
	for i, l := range links {
		items[i] = "[[" + l.Target + "]]"
	}
	return bullets(items)
}

func fresh(cs []concept.Concept) string {
	items := make([]string, len(cs))
	for i, c := range cs {
		items[i] = "[[" + c.Display + "]]"
	}
	return bullets(items)
}
