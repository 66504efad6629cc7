// Package tags derives routing tags from model identifiers and evaluates the
// size-filter predicates used in tag queries. Both halves are pure functions:
// the same id always yields the same ordered tag set.
package tags

import (
	"regexp"
	"strings"
	"unicode"
)

// splitSet is the delimiter set for tag fragmentation.
const splitSet = ":/@-_,"

// providerTokens are vendor prefixes dropped when they appear as standalone
// fragments so they do not dominate tag queries.
var providerTokens = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"google":    true,
	"meta":      true,
	"qwen":      true,
	"deepseek":  true,
	"mistralai": true,
	"accounts":  true,
}

// genericTokens are suffix fragments too common to be useful as tags.
var genericTokens = map[string]bool{
	"free":     true,
	"pro":      true,
	"chat":     true,
	"instruct": true,
	"latest":   true,
	"preview":  true,
	"it":       true,
	"hf":       true,
}

// dateSuffix matches release-date suffixes on model segments:
// -20240307, -240307, -2024-03-07.
var dateSuffix = regexp.MustCompile(`-(?:\d{8}|\d{6}|\d{4}-\d{2}-\d{2})$`)

// Extract derives the ordered tag set for a model id: lower-cased fragments
// split on ":/@-_," plus complete meaningful segments (and their date-stripped
// forms), minus provider-prefix and generic tokens.
func Extract(modelID string) []string {
	lower := strings.ToLower(modelID)

	var out []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}

	// Complete segments first so they lead the ordered set: top-level pieces
	// delimited by / : @ that mix letters with digits or dashes.
	for _, seg := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == '/' || r == ':' || r == '@'
	}) {
		if !meaningfulSegment(seg) {
			continue
		}
		add(seg)
		if stripped := dateSuffix.ReplaceAllString(seg, ""); stripped != seg {
			add(stripped)
		}
	}

	for _, frag := range strings.FieldsFunc(lower, func(r rune) bool {
		return strings.ContainsRune(splitSet, r)
	}) {
		if providerTokens[frag] || genericTokens[frag] {
			continue
		}
		add(frag)
	}
	return out
}

// meaningfulSegment reports whether a top-level segment is worth emitting
// verbatim: length ≥ 3, containing a letter and a digit or dash.
func meaningfulSegment(seg string) bool {
	if len(seg) < 3 {
		return false
	}
	hasLetter, hasDigitOrDash := false, false
	for _, r := range seg {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r) || r == '-':
			hasDigitOrDash = true
		}
	}
	return hasLetter && hasDigitOrDash
}

// ExtractWithAliases extends Extract with tags derived from channel model
// aliases whose target matches the id. Tag queries evaluate both positive
// and negative terms against this enriched set.
func ExtractWithAliases(modelID string, aliases map[string]string) []string {
	out := Extract(modelID)
	if len(aliases) == 0 {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t] = true
	}
	for alias, target := range aliases {
		if target != modelID {
			continue
		}
		for _, t := range Extract(alias) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// HasAll reports whether every tag in want is present in set.
func HasAll(set []string, want []string) bool {
	for _, w := range want {
		if !contains(set, w) {
			return false
		}
	}
	return true
}

// HasAny reports whether any tag in probe is present in set.
func HasAny(set []string, probe []string) bool {
	for _, p := range probe {
		if contains(set, p) {
			return true
		}
	}
	return false
}

func contains(set []string, tag string) bool {
	for _, t := range set {
		if t == tag {
			return true
		}
	}
	return false
}
