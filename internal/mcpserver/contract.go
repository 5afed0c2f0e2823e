package mcpserver

// NoteFormatContract describes the Markdown written for every researched
// topic, so clients can read notes back or write compatible ones.
const NoteFormatContract = `# deepnote Research Note Format

Every research note in the vault follows this structure.

## Structure

` + "```" + `markdown
---
title: Walt Disney World
aliases: []
tags:
  - research
  - walt_disney_world
created: 2025-01-15T09:30:00Z
modified: 2025-01-15T09:30:00Z
note_type: research
---

# Walt Disney World

## Summary
Two or three sentences.

## Note Content
- key points with [[wikilinks]]

## Action Items
-

## Questions & Learnings
-

## Links & References

### Related Notes
- [[Disneyland]]

### New Concepts
- [[Magic Kingdom]]

### External Links
-
` + "```" + `

## Rules

1. **Frontmatter comes first.** ` + "`title`" + ` is the display name; its normalized form
   (case folded, punctuation dropped, hyphens as spaces) is the note identity.
2. **Timestamps** are RFC 3339 in UTC with second precision.
3. **Sections never disappear.** An empty section holds a single ` + "`- `" + ` line.
4. **Related Notes** link notes that exist. **New Concepts** link notes that do
   not exist yet; each of them is in the research queue.
5. **Wikilinks** point at the note title. When the text uses another spelling the
   link keeps it as an alias: ` + "`[[Disneyland|disneyland]]`" + `.
6. **File names** are the title without ` + "`<>:\"/\\|?*`" + `, at most 100 characters, plus ` + "`.md`" + `.
`
