// Package ui is the terminal view of a chatsync session: the message log in
// a scrolling viewport above a single input line.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	bviewport "github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/outbound"
	"github.com/go-go-golems/chatsync/pkg/viewport"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	originStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	stateStyles = map[chatsync.State]lipgloss.Style{
		chatsync.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		chatsync.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		chatsync.Disconnected: errorStyle,
		chatsync.Closed:       dimStyle,
	}
)

type Submitter interface {
	Submit(ctx context.Context, d *outbound.Draft) error
}

type Options struct {
	Title           string
	FollowThreshold int
	Markdown        bool
	Side            string
}

type submittedMsg struct {
	err error
}

type Model struct {
	opts      Options
	feed      *Feed
	submitter Submitter

	viewport bviewport.Model
	input    textinput.Model

	entries  []chatsync.Entry
	state    chatsync.State
	stateErr error
	revision uint64
	status   string

	width  int
	height int
}

func NewModel(feed *Feed, submitter Submitter, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Write a message"
	ti.Prompt = "> "
	ti.Focus()

	return Model{
		opts:      opts,
		feed:      feed,
		submitter: submitter,
		viewport:  bviewport.New(80, 20),
		input:     ti,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.feed != nil {
		cmds = append(cmds, m.feed.wait())
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.viewport.SetContent(m.render())
		return m, nil

	case SnapshotMsg:
		m = m.applySnapshot(msg.Snapshot)
		if m.feed != nil {
			return m, m.feed.wait()
		}
		return m, nil

	case submittedMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("send failed: " + msg.err.Error())
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+y":
			m.status = m.copyNewest()
			return m, nil
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applySnapshot swaps in a newer log. Whether to stick to the bottom is
// decided before the new content changes the scroll height.
func (m Model) applySnapshot(s chatsync.Snapshot) Model {
	if s.Revision <= m.revision {
		return m
	}
	follow := viewport.ShouldFollow(m.viewport.YOffset, m.viewport.TotalLineCount(), m.viewport.Height, m.opts.FollowThreshold)

	m.revision = s.Revision
	m.entries = s.Entries
	m.state = s.State
	m.stateErr = s.Err
	m.viewport.SetContent(m.render())
	if follow {
		m.viewport.GotoBottom()
	}
	return m
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	// each Enter owns its draft; queued sends never share a buffer
	draft := outbound.NewDraft(m.input.Value())
	draft.SetSide(m.opts.Side)
	if draft.Blank() {
		m.status = dimStyle.Render("nothing to send")
		return m, nil
	}
	// the input is cleared on every attempt, like the draft
	m.input.Reset()
	m.status = dimStyle.Render("sending…")

	submitter := m.submitter
	return m, func() tea.Msg {
		err := submitter.Submit(context.Background(), draft)
		return submittedMsg{err: err}
	}
}

func (m Model) copyNewest() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("nothing to copy")
	}
	text := m.entries[len(m.entries)-1].DisplayText
	if err := clipboard.WriteAll(text); err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("clipboard write failed")
		return errorStyle.Render("copy failed: " + err.Error())
	}
	return dimStyle.Render("copied newest message")
}

func (m Model) render() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("no messages yet")
	}
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(originStyle.Render(fmt.Sprintf("%-6s", e.Origin)))
		b.WriteString(" ")
		b.WriteString(m.renderText(e.DisplayText))
	}
	return b.String()
}

func (m Model) renderText(text string) string {
	if !m.opts.Markdown {
		return text
	}
	out, err := glamour.Render(text, "dark")
	if err != nil {
		log.Debug().Err(err).Str("component", "ui").Msg("markdown render failed")
		return text
	}
	return strings.TrimSpace(out)
}

func (m Model) View() string {
	var b strings.Builder

	state := stateStyles[m.state].Render(m.state.String())
	b.WriteString(headerStyle.Render(m.opts.Title))
	b.WriteString(" ")
	b.WriteString(state)
	if m.stateErr != nil && m.state != chatsync.Connected {
		b.WriteString(" ")
		b.WriteString(errorStyle.Render(m.stateErr.Error()))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.status)
	return b.String()
}

// Entries returns the entries currently displayed.
func (m Model) Entries() []chatsync.Entry {
	return m.entries
}

// Run attaches a Feed to core and runs the program until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, core *chatsync.Core, submitter Submitter, opts Options) error {
	feed := NewFeed()
	remove := core.AddListener(feed.Listener())
	defer remove()

	m := NewModel(feed, submitter, opts)
	m = m.applySnapshot(core.Snapshot())

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
