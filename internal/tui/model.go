// Package tui is the interactive terminal browser for the catalog.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/rendering"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// BuildFunc produces the catalog entries. It is run once at startup and on refresh.
type BuildFunc func(ctx context.Context) ([]types.DisplayEntry, error)

type viewState int

const (
	stateLoading viewState = iota
	stateBrowsing
)

const defaultCardWidth = 64

type builtMsg struct {
	entries []types.DisplayEntry
	err     error
}

// Model is the bubbletea model for the browser.
type Model struct {
	ctx     context.Context
	build   BuildFunc
	state   viewState
	input   textinput.Model
	spin    spinner.Model
	entries []types.DisplayEntry
	visible []types.DisplayEntry
	offset  int
	err     error
	width   int
	height  int
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#a78bfa")).Bold(true)
	authorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c4b5fd"))
	metaStyle   = lipgloss.NewStyle().Faint(true)
	linkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	emptyStyle  = lipgloss.NewStyle().Italic(true).Faint(true)
	statusStyle = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4c1d95")).
			Padding(0, 1)
)

// New creates a browser model that loads its entries with build.
func New(ctx context.Context, build BuildFunc) Model {
	input := textinput.New()
	input.Prompt = "Search: "
	input.Placeholder = "title or author"
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		ctx:     ctx,
		build:   build,
		state:   stateLoading,
		input:   input,
		spin:    s,
		entries: []types.DisplayEntry{},
		visible: []types.DisplayEntry{},
	}
}

// Run starts the browser and blocks until the user quits.
func Run(ctx context.Context, build BuildFunc) error {
	_, err := tea.NewProgram(New(ctx, build), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}

// Init starts the first build.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.runBuild(), textinput.Blink)
}

func (m Model) runBuild() tea.Cmd {
	build, ctx := m.build, m.ctx
	return func() tea.Msg {
		if build == nil {
			return builtMsg{entries: []types.DisplayEntry{}}
		}
		entries, err := build(ctx)
		return builtMsg{entries: entries, err: err}
	}
}

// Update handles input. Every change to the query re-filters the full entry set.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case builtMsg:
		m.state = stateBrowsing
		m.entries = msg.entries
		if m.entries == nil {
			m.entries = []types.DisplayEntry{}
		}
		m.err = msg.err
		m.refilter()
		return m, nil

	case spinner.TickMsg:
		if m.state != stateLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			if m.state == stateLoading {
				return m, nil
			}
			m.state = stateLoading
			return m, tea.Batch(m.spin.Tick, m.runBuild())
		case "up", "ctrl+p":
			if m.offset > 0 {
				m.offset--
			}
			return m, nil
		case "down", "ctrl+n":
			if m.offset < len(m.visible)-1 {
				m.offset++
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.refilter()
	}
	return m, cmd
}

func (m *Model) refilter() {
	m.visible = catalog.Filter(m.entries, m.input.Value())
	m.offset = 0
}

// Query is the current search text.
func (m Model) Query() string {
	return m.input.Value()
}

// Visible returns the entries matching the current query.
func (m Model) Visible() []types.DisplayEntry {
	return m.visible
}

// View renders the search box and the cards.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(rendering.DefaultTitle))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if m.state == stateLoading {
		fmt.Fprintf(&b, "%s Resolving catalog metadata...\n", m.spin.View())
		return b.String()
	}

	if len(m.visible) == 0 {
		b.WriteString(emptyStyle.Render(rendering.DefaultEmpty))
		b.WriteString("\n")
	} else {
		for _, e := range m.visible[m.offset:m.lastVisible()] {
			b.WriteString(m.renderCard(rendering.NewCard(e)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.err != nil && len(m.entries) == 0 {
		b.WriteString(errStyle.Render("catalog unavailable"))
		b.WriteString("  ")
	}
	b.WriteString(statusStyle.Render(fmt.Sprintf("%d of %d  •  ↑/↓ scroll  •  ctrl+r refresh  •  esc quit",
		len(m.visible), len(m.entries))))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderCard(c rendering.Card) string {
	lines := []string{titleStyle.Render(c.Title)}
	if c.Author != "" {
		lines = append(lines, authorStyle.Render(c.Author))
	}
	lines = append(lines,
		metaStyle.Render(fmt.Sprintf("Pages: %s   Size: %s", c.Pages, c.Size)),
		linkStyle.Render(c.Href),
	)
	return cardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) cardWidth() int {
	if m.width > 4 && m.width-4 < defaultCardWidth {
		return m.width - 4
	}
	return defaultCardWidth
}

// lastVisible bounds the cards drawn to what fits the window height.
func (m Model) lastVisible() int {
	end := len(m.visible)
	if m.height <= 0 {
		return end
	}
	// Header, input, status and card borders take roughly this much space.
	perCard := 6
	room := (m.height - 8) / perCard
	if room < 1 {
		room = 1
	}
	if m.offset+room < end {
		end = m.offset + room
	}
	return end
}
