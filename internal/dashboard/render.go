package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ashureev/agent-widgets/internal/widget"
	"github.com/ashureev/agent-widgets/web"
)

const (
	pageTitle    = "Agent Comparison Dashboard"
	pageSubtitle = "Compare both agent widgets side by side"
)

// Panel is one widget as placed on the page.
type Panel struct {
	Snapshot widget.Snapshot
	Shell    ShellView
	Position int
}

// PageData feeds the dashboard page template.
type PageData struct {
	Title    string
	Subtitle string
	Info     template.HTML
	Widgets  []Panel
}

// Renderer turns snapshots into HTML. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
	info template.HTML
}

// NewRenderer parses the embedded templates and renders the info card markdown.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(web.Templates(), "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(web.DashboardMarkdown(), &buf); err != nil {
		return nil, fmt.Errorf("render dashboard markdown: %w", err)
	}

	return &Renderer{
		tmpl: tmpl,
		info: template.HTML(buf.String()), //nolint:gosec // goldmark drops raw HTML unless WithUnsafe is set.
	}, nil
}

// Widget renders the fragment for one widget, including its toggle button.
func (r *Renderer) Widget(p Panel) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "widget", p); err != nil {
		return "", fmt.Errorf("render widget %s: %w", p.Snapshot.WidgetID, err)
	}
	return buf.String(), nil
}

// Page renders the full dashboard.
func (r *Renderer) Page(w io.Writer, panels []Panel) error {
	data := PageData{
		Title:    pageTitle,
		Subtitle: pageSubtitle,
		Info:     r.info,
		Widgets:  panels,
	}
	if err := r.tmpl.ExecuteTemplate(w, "page", data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}
