// Package naming maps arbitrary titles and display names to strings that are
// safe to use as a single path segment.
package naming

import (
	"strings"
	"unicode/utf8"
)

// MaxBytes is the byte budget for one path segment.
const MaxBytes = 250

var replacer = strings.NewReplacer(
	`\`, "╲",
	"/", "／",
	":", "：",
	"*", "⚝",
	"?", "？",
	`"`, "''",
	"<", "‹",
	">", "›",
	"|", "｜",
)

// Sanitize replaces path-hostile characters with look-alikes and truncates
// the result to MaxBytes. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(raw string) string {
	return Truncate(replace(raw), MaxBytes)
}

// Truncate cuts s to at most max bytes without splitting a codepoint.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// FileName sanitizes title and appends suffix, shortening the title so the
// whole segment fits MaxBytes. The suffix is never cut.
func FileName(title, suffix string) string {
	return Truncate(replace(title), MaxBytes-len(suffix)) + suffix
}

// Untitled labels a folder whose name is blank.
const Untitled = "untitled"

// Folder returns the "{name}_{id}" segment used for owner, work and series
// folders. A blank name becomes Untitled.
func Folder(name, id string) string {
	if strings.TrimSpace(name) == "" {
		name = Untitled
	}
	return FileName(name, "_"+id)
}

func replace(raw string) string {
	return replacer.Replace(strings.ToValidUTF8(raw, "�"))
}
