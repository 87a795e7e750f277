package content

import (
	"regexp"
	"strings"
)

// urlPattern matches links with an explicit scheme or a bare www. prefix.
var urlPattern = regexp.MustCompile(`(?i)\b(?:[a-z][a-z0-9+.-]*://|www\.)\S+`)

// structuralMarkers are cheap substring checks applied before the regexp.
var structuralMarkers = []string{
	"```", // fenced code block
	"`",   // inline code
	"<",   // markup / tags
	">",   // quoted or markup
	"$",   // currency or shell
}

// IsStructured reports whether the text contains code, markup, or links.
// The client uses the flag to pick a rendering treatment; it has no
// effect on routing or generation. Pure and deterministic.
func IsStructured(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	for _, marker := range structuralMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return urlPattern.MatchString(text)
}
