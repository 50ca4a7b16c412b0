package canonpath

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestCanonicalize(t *testing.T) {
	// "ü" decomposed (u + combining diaeresis) vs. precomposed
	decomposed := "b/ü.bin"
	precomposed := "b/\u00fc.bin"

	assert.Assert(t, decomposed != precomposed)
	assert.EqualString(t, Canonicalize(decomposed), Canonicalize(precomposed))
	assert.EqualString(t, Canonicalize(decomposed), precomposed)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	for _, input := range []string{
		"plain/ascii.txt",
		"b/ü.bin",
		`windows\style\path.txt`,
		"café/menu.pdf",
	} {
		t.Run(input, func(t *testing.T) {
			once := Canonicalize(input)
			assert.EqualString(t, Canonicalize(once), once)
		})
	}
}

func TestCanonicalizeBackslashes(t *testing.T) {
	assert.EqualString(t, Canonicalize(`a\b\c.txt`), "a/b/c.txt")
}

func TestSegments(t *testing.T) {
	segments := Segments("a/b/c.txt")

	assert.Assert(t, len(segments) == 3)
	assert.EqualString(t, segments[0], "a")
	assert.EqualString(t, segments[2], "c.txt")
}
