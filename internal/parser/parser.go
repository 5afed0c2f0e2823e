// Package parser extracts frontmatter, wikilinks, tags and sections from
// Markdown notes.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\[\]]+?)\]\]`)
	mdLinkRe   = regexp.MustCompile(`!?\[[^\[\]]*\]\([^()\s]*\)`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	RawHeader   []byte
	Body        string
	Links       []string
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, wikilinks, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, header, body := splitFrontmatter(data)

	return &Result{
		Frontmatter: fm,
		RawHeader:   header,
		Body:        body,
		Links:       ExtractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, []byte, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: treat everything as body.
		return nil, nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep the whole file as body.
		return nil, nil, string(data)
	}

	return fm, yamlBlock, body
}

// ExtractLinks returns deduplicated wikilink targets in order of appearance.
// Aliases are dropped: [[Target|Alias]] yields Target.
func ExtractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target, _ := SplitLink(m[1])
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// ExtractLinkSpans returns the byte offsets of every wikilink in text as
// [start, end, innerStart, innerEnd].
func ExtractLinkSpans(text string) [][]int {
	return wikilinkRe.FindAllStringSubmatchIndex(text, -1)
}

// ExtractMarkdownLinkSpans returns the byte offsets of every inline
// Markdown link or image, [text](url), in text as [start, end].
func ExtractMarkdownLinkSpans(text string) [][]int {
	return mdLinkRe.FindAllStringIndex(text, -1)
}

// SplitLink splits the inside of a wikilink into target and alias.
// A heading or block suffix on the target (#...) is dropped.
func SplitLink(inner string) (target, alias string) {
	target = inner
	if i := strings.Index(inner, "|"); i >= 0 {
		target, alias = inner[:i], strings.TrimSpace(inner[i+1:])
	}
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	return strings.TrimSpace(target), alias
}

// Section returns the text under the first heading whose text equals
// heading (case-insensitive), up to the next heading of the same or
// higher level. ok is false when the heading is absent.
func Section(body, heading string) (text string, ok bool) {
	lines := strings.Split(body, "\n")
	level := 0
	start := -1
	for i, line := range lines {
		lvl, h := headingOf(line)
		if lvl == 0 {
			continue
		}
		if start < 0 {
			if strings.EqualFold(h, heading) {
				level, start = lvl, i+1
			}
			continue
		}
		if lvl <= level {
			return strings.TrimSpace(strings.Join(lines[start:i], "\n")), true
		}
	}
	if start < 0 {
		return "", false
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n")), true
}

// SectionLinks returns the wikilink targets found under heading.
func SectionLinks(body, heading string) []string {
	text, ok := Section(body, heading)
	if !ok {
		return nil
	}
	return ExtractLinks(text)
}

func headingOf(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, ""
	}
	return n, strings.TrimSpace(trimmed[n:])
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if fm != nil {
		switch v := fm["tags"].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
