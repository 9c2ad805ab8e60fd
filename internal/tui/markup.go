package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/net/html"
)

// MarkupStyles styles the inline markup produced by the message formatter.
type MarkupStyles struct {
	Strong   lipgloss.Style
	Emphasis lipgloss.Style
}

// RenderMarkup turns formatter output (<p>, <br />, <strong>, <em> and
// escaped text) into styled terminal text. Paragraphs are separated by a
// blank line. Unknown tags are dropped, their text is kept.
func RenderMarkup(markup string, st MarkupStyles) string {
	z := html.NewTokenizer(strings.NewReader(markup))

	var (
		paragraphs []string
		cur        strings.Builder
		strong     int
		em         int
	)
	flush := func() {
		if text := strings.TrimRight(cur.String(), "\n"); text != "" {
			paragraphs = append(paragraphs, text)
		}
		cur.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; render what we have.
			flush()
			return strings.Join(paragraphs, "\n\n")
		case html.TextToken:
			text := string(z.Text())
			if text == "" {
				continue
			}
			style := lipgloss.NewStyle()
			if strong > 0 {
				style = style.Inherit(st.Strong)
			}
			if em > 0 {
				style = style.Inherit(st.Emphasis)
			}
			if strong == 0 && em == 0 {
				cur.WriteString(text)
				continue
			}
			// Style line by line so breaks inside a span survive.
			lines := strings.Split(text, "\n")
			for i, line := range lines {
				if i > 0 {
					cur.WriteByte('\n')
				}
				if line != "" {
					cur.WriteString(style.Render(line))
				}
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p":
				flush()
			case "br":
				cur.WriteByte('\n')
			case "strong", "b":
				strong++
			case "em", "i":
				em++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p":
				flush()
			case "strong", "b":
				if strong > 0 {
					strong--
				}
			case "em", "i":
				if em > 0 {
					em--
				}
			}
		}
	}
}
