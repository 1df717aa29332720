// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/rendering"
	"github.com/jonathan/ebook-catalog/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer handles formatted output. It is safe for concurrent use so it can
// receive build progress from resolver goroutines.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// truncate shortens s to at most n runes, marking the cut with "..."
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCatalog outputs one block per entry, or the empty-state text.
func (p *Printer) PrintCatalog(entries []types.DisplayEntry, query string) {
	title := "EBOOK CATALOG"
	if query != "" {
		title = fmt.Sprintf("EBOOK CATALOG · %q", query)
	}

	if len(entries) == 0 {
		p.printBox(title, rendering.DefaultEmpty)
		return
	}

	var sb strings.Builder
	for i, e := range entries {
		card := rendering.NewCard(e)
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, card.Title))
		if card.Author != "" {
			sb.WriteString(fmt.Sprintf("    by %s\n", card.Author))
		}
		sb.WriteString(fmt.Sprintf("    Pages: %s   Size: %s\n", card.Pages, card.Size))
		sb.WriteString(fmt.Sprintf("    %s\n", card.Href))
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBuildSummary outputs how a build went and how many fields fell back.
func (p *Printer) PrintBuildSummary(state *catalog.State) {
	if state == nil {
		return
	}

	var noSize, noPages int
	for _, e := range state.Entries {
		if e.SizeDisplay == types.SizeUnavailable {
			noSize++
		}
		if e.PageCount == types.PagesUnavailable {
			noPages++
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Build:     %s\n", state.BuildID))
	sb.WriteString(fmt.Sprintf("Entries:   %d\n", len(state.Entries)))
	sb.WriteString(fmt.Sprintf("Elapsed:   %s\n", state.Elapsed.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("No size:   %d\n", noSize))
	sb.WriteString(fmt.Sprintf("No pages:  %d", noPages))

	p.printBox("BUILD SUMMARY", sb.String())
}

// PrintProgress outputs one line per resolved entry.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev catalog.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "[%d/%d] %s  (%s, %s pages)\n",
		ev.Resolved, ev.Total, truncate(ev.Entry.Title, 40), ev.Entry.SizeDisplay, ev.Entry.PageCount)
}
