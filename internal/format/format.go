// Package format turns raw agent text into safe display markup.
//
// The output only ever contains the tags <p>, <br />, <strong> and <em>;
// everything else from the source text is HTML-escaped before any tag is
// inserted, so the result can be written into a page verbatim.
package format

import (
	"regexp"
	"strings"
	"unicode"
)

const lineBreak = "<br />"

var (
	boldPattern      = regexp.MustCompile(`\*\*([^*]+?)\*\*`)
	emphasisPattern  = regexp.MustCompile(`\*([^*\n]+?)\*`)
	// Blank-line separators may hold any space character, including
	// vertical tab, no-break and other Unicode spaces.
	paragraphPattern = regexp.MustCompile(`\n[\s\v\p{Z}\x{FEFF}]*\n+`)

	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// EscapeHTML escapes &, < and >. User-authored messages get only this treatment.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Format converts agent text to paragraph markup with bold and emphasis spans.
func Format(raw string) string {
	if raw == "" {
		return ""
	}

	// Agents sometimes send the two characters `\n` instead of a newline.
	text := strings.ReplaceAll(raw, `\n`, "\n")
	text = EscapeHTML(text)

	// Bold first so a `**` pair is never eaten by the emphasis rule.
	text = boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	text = emphasisPattern.ReplaceAllString(text, "<em>$1</em>")

	var paragraphs []string
	for _, para := range paragraphPattern.Split(text, -1) {
		if body := joinLines(trimSpace(para)); body != "" {
			paragraphs = append(paragraphs, "<p>"+body+"</p>")
		}
	}
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "")
	}

	if body := joinLines(text); body != "" {
		return "<p>" + body + "</p>"
	}
	return text
}

// joinLines trims every line, drops the empty ones and joins the rest with <br />.
func joinLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = trimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, lineBreak)
}

func isSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', '\uFEFF':
		return true
	}
	return unicode.Is(unicode.Z, r)
}

func trimSpace(s string) string {
	return strings.TrimFunc(s, isSpace)
}
