package naming

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReplacesHostileCharacters(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`a/b`, "a／b"},
		{`a\b`, "a╲b"},
		{`re:zero`, "re：zero"},
		{`what?*`, "what？⚝"},
		{`"quoted"`, "''quoted''"},
		{`<tag>|x`, "‹tag›｜x"},
		{"plain title", "plain title"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeOutputHasNoHostileCharacters(t *testing.T) {
	got := Sanitize(`\/:*?"<>|` + strings.Repeat("x", 10))
	assert.False(t, strings.ContainsAny(got, `\/:*?"<>|`))
}

func TestSanitizeIsFixedPoint(t *testing.T) {
	inputs := []string{
		`a/b:c`,
		strings.Repeat("あ", 200),
		strings.Repeat(`"`, 300),
		"emoji 🎨 title / part 2",
		"bad \xff bytes",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestTruncateRespectsCodepoints(t *testing.T) {
	// three-byte characters: 250 is not a multiple of 3
	s := strings.Repeat("あ", 100)
	got := Sanitize(s)

	assert.LessOrEqual(t, len(got), MaxBytes)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 249, len(got))
	assert.True(t, strings.HasPrefix(s, got))
}

func TestTruncateShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestFileNameKeepsSuffix(t *testing.T) {
	title := strings.Repeat("長", 120)
	got := FileName(title, "_12345_p0.png")

	assert.True(t, strings.HasSuffix(got, "_12345_p0.png"))
	assert.LessOrEqual(t, len(got), MaxBytes)
	assert.True(t, utf8.ValidString(got))
}

func TestFolder(t *testing.T) {
	assert.Equal(t, "Alice／B_42", Folder("Alice/B", "42"))
	assert.Equal(t, "untitled_42", Folder("", "42"))
	assert.Equal(t, "untitled_42", Folder("  ", "42"))
}
