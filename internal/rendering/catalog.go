package rendering

import (
	"bytes"
	_ "embed"
	"html/template"
	"io"
	"os"
	"strings"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// View-level fallbacks for fields that were never filled in.
const (
	SizeLoading   = "Loading…"
	PagesMissing  = types.PagesUnavailable
	DefaultTitle  = "Ebook Catalog"
	DefaultEmpty  = "No ebooks found."
	defaultTmplID = "catalog"
)

//go:embed templates/catalog.html.tmpl
var defaultTemplate string

// PageData is the data passed to the page template
type PageData struct {
	Title     string
	Query     string
	EmptyText string
	Cards     []Card
}

// Card is one rendered catalog entry
type Card struct {
	Title    string
	Author   string
	Pages    string
	Size     string
	Href     string
	Download string
}

// Renderer renders catalog snapshots with a parsed template.
type Renderer struct {
	tmpl      *template.Template
	path      string
	Title     string
	EmptyText string
}

// NewRenderer parses the page template at templatePath, or the built-in
// template when templatePath is empty.
func NewRenderer(templatePath string) (*Renderer, error) {
	tmpl, err := parseTemplate(templatePath)
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: tmpl, path: templatePath, Title: DefaultTitle, EmptyText: DefaultEmpty}, nil
}

// RenderCatalog renders the visible entries of state with the built-in template.
func RenderCatalog(w io.Writer, state *catalog.State) error {
	r, err := NewRenderer("")
	if err != nil {
		return err
	}
	return r.Render(w, state)
}

// Render writes the page for state's visible entries. The page is rendered in
// full before anything is written to w, so a failed render leaves w untouched.
func (r *Renderer) Render(w io.Writer, state *catalog.State) error {
	if state == nil {
		return &RenderError{Reason: "no catalog state"}
	}

	data := BuildPageData(state.Visible(), state.Query)
	data.Title = r.Title
	data.EmptyText = r.EmptyText

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return &TemplateError{Path: r.path, Stage: StageExecute, Cause: err}
	}

	if _, err := buf.WriteTo(w); err != nil {
		return &RenderError{
			BuildID: state.BuildID,
			Cards:   len(data.Cards),
			Reason:  "write failed",
			Cause:   err,
		}
	}
	return nil
}

// BuildPageData converts display entries into cards, in order.
func BuildPageData(entries []types.DisplayEntry, query string) *PageData {
	cards := make([]Card, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, NewCard(e))
	}
	return &PageData{
		Title:     DefaultTitle,
		Query:     query,
		EmptyText: DefaultEmpty,
		Cards:     cards,
	}
}

// NewCard applies the view fallbacks to one entry.
func NewCard(e types.DisplayEntry) Card {
	size := e.SizeDisplay
	if size == "" {
		size = SizeLoading
	}
	pages := e.PageCount
	if pages == "" {
		pages = PagesMissing
	}
	return Card{
		Title:    e.Title,
		Author:   e.Author,
		Pages:    pages,
		Size:     size,
		Href:     Href(e),
		Download: DownloadName(e.File),
	}
}

// Href is where a card links: the URL the document was probed at when remote,
// otherwise the manifest's file reference as written.
func Href(e types.DisplayEntry) string {
	if e.Location != "" {
		return e.Location
	}
	return e.File
}

// DownloadName is the last path segment of a resource locator.
func DownloadName(file string) string {
	return file[strings.LastIndex(file, "/")+1:]
}

// parseTemplate reads and parses a page template file
func parseTemplate(templatePath string) (*template.Template, error) {
	content := defaultTemplate
	if templatePath != "" {
		raw, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, &TemplateError{Path: templatePath, Stage: StageRead, Cause: err}
		}
		content = string(raw)
	}

	tmpl, err := template.New(defaultTmplID).Parse(content)
	if err != nil {
		return nil, &TemplateError{Path: templatePath, Stage: StageParse, Cause: err}
	}
	return tmpl, nil
}
