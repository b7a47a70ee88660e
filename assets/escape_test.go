package assets

import (
	"testing"
)

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"With Spaces",
		"dots.and.dashes-and_underscores",
		"unicode-héllo-世界",
		"/etc/passwd",
		`a\b:c*d?e"f<g>h|i`,
		"",
		"_41",  // looks like an escape sequence
		"__",   // underscores escape themselves
		"....",
	}
	for _, s := range cases {
		escaped := SafeEscapeFilename(s)
		if got := SafeUnescapeFilename(escaped); got != s {
			t.Errorf("round trip of %q: escaped %q, unescaped %q", s, escaped, got)
		}
	}
}

func TestEscapeProducesSafeNames(t *testing.T) {
	escaped := SafeEscapeFilename(`../evil/..\name with "quotes"`)
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if !isFilenameSafe(c) && c != '_' {
			t.Fatalf("escaped name %q contains unsafe byte %q", escaped, c)
		}
	}
}

func TestEscapeIsInjective(t *testing.T) {
	// two different ids must never collide on disk
	pairs := [][2]string{
		{"a_b", "a b"},
		{"x/y", "x_2Fy"},
		{"_", "_5F"},
	}
	for _, p := range pairs {
		if SafeEscapeFilename(p[0]) == SafeEscapeFilename(p[1]) {
			t.Errorf("escape collision between %q and %q", p[0], p[1])
		}
	}
}

func TestUnescapeTolerantOfForeignNames(t *testing.T) {
	// not produced by the escaper, must pass through without panic
	for _, s := range []string{"_", "_4", "_zz", "trailing_"} {
		_ = SafeUnescapeFilename(s)
	}
}
