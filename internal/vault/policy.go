package vault

import "fmt"

// Policy decides what happens when a note is researched again.
type Policy string

const (
	// PolicySkip never replaces an existing note; the collision is reported.
	PolicySkip Policy = "skip"
	// PolicyOverwrite replaces the note in place, keeping its created time.
	PolicyOverwrite Policy = "overwrite"
	// PolicyVersion writes a sibling note titled "Title (n)".
	PolicyVersion Policy = "version"
)

// Policies lists the accepted policy names.
var Policies = []Policy{PolicySkip, PolicyOverwrite, PolicyVersion}

// ParsePolicy converts a config value into a Policy. Empty means skip.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicySkip, nil
	}
	for _, p := range Policies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("vault: unknown collision policy %q", s)
}
