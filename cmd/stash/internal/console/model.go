package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/germanamz/stash/pkg/transport"
)

// Dispatcher receives the events typed by the user.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev transport.Event) error
}

type entry struct {
	id   transport.MessageID
	user bool
	out  transport.Outgoing
}

// pressable is a numbered button on screen.
type pressable struct {
	message transport.MessageID
	button  transport.Button
}

type dispatchedMsg struct {
	err error
}

// Model is the console's bubbletea model.
type Model struct {
	ctx      context.Context
	actor    transport.ActorID
	d        Dispatcher
	input    textinput.Model
	renderer *glamour.TermRenderer

	entries []entry
	seq     int
	status  string
	width   int
}

// NewModel creates a model that sends the user's input to d as actor.
func NewModel(ctx context.Context, actor transport.ActorID, d Dispatcher) Model {
	ti := textinput.New()
	ti.Placeholder = "message, /command or #N to press a button"
	ti.Focus()

	return Model{
		ctx:      ctx,
		actor:    actor,
		d:        d,
		input:    ti,
		renderer: newRenderer(80),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		m.renderer = newRenderer(msg.Width - 4)
		return m, nil
	case sentMsg:
		m.entries = append(m.entries, entry{id: msg.id, out: msg.out})
		return m, nil
	case editedMsg:
		for i := range m.entries {
			if m.entries[i].id == msg.id {
				m.entries[i].out = msg.out
			}
		}
		return m, nil
	case deletedMsg:
		m.remove(msg.id)
		return m, nil
	case dispatchedMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	return m, cmd
}

// submit turns a typed line into an event. Dispatch runs in a command
// because the bot answers through the program's message loop.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	m.status = ""

	var ev transport.Event
	if n, ok := buttonNumber(line); ok {
		buttons := m.buttons()
		if n < 1 || n > len(buttons) {
			m.status = fmt.Sprintf("no button #%d", n)
			return m, nil
		}
		p := buttons[n-1]
		ev = transport.NewCallback(m.actor, p.message, p.button.Callback)
	} else {
		m.seq++
		id := transport.MessageID(fmt.Sprintf("u%d", m.seq))
		m.entries = append(m.entries, entry{id: id, user: true, out: transport.Outgoing{Text: line}})
		ev = transport.ParseText(m.actor, id, line)
	}

	d, ctx := m.d, m.ctx

	return m, func() tea.Msg {
		return dispatchedMsg{err: d.Dispatch(ctx, ev)}
	}
}

func buttonNumber(line string) (int, bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(line, "#"))
	if err != nil {
		return 0, false
	}

	return n, true
}

func (m *Model) remove(id transport.MessageID) {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

// buttons lists every button on screen in display order.
func (m Model) buttons() []pressable {
	var out []pressable
	for _, e := range m.entries {
		for _, row := range e.out.Keyboard {
			for _, b := range row {
				out = append(out, pressable{message: e.id, button: b})
			}
		}
	}

	return out
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder

	n := 0
	for _, e := range m.entries {
		if e.user {
			sb.WriteString(userStyle.Render("> ") + e.out.Text + "\n")
			continue
		}

		sb.WriteString(botStyle.Render(m.render(e.out.Text)) + "\n")

		for _, row := range e.out.Keyboard {
			cells := make([]string, 0, len(row))
			for _, b := range row {
				n++
				cells = append(cells, buttonStyle.Render(buttonLabel(n, b.Label)))
			}
			sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...) + "\n")
		}
	}

	if m.status != "" {
		sb.WriteString(errorStyle.Render(m.status) + "\n")
	}
	sb.WriteString(m.input.View() + "\n")
	sb.WriteString(dimStyle.Render("esc to quit"))

	return sb.String()
}

func (m Model) render(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}

	return strings.Trim(out, "\n")
}

func buttonLabel(n int, label string) string {
	return fmt.Sprintf("#%d %s", n, runewidth.Truncate(label, maxLabelWidth, "…"))
}
