package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"github.com/wippyai/script-runtime/ops"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	modeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type consoleModel struct {
	sh       *shell
	ops      []opInfo
	input    textinput.Model
	record   string
	selected int
	state    modelState
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

func newConsoleModel(sh *shell) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = `[1, "key"]`
	ti.Prompt = "args: "
	ti.Width = 48
	return &consoleModel{
		sh:    sh,
		ops:   sh.opList(),
		input: ti,
		state: stateSelectOp,
	}
}

type callDoneMsg struct {
	record string
}

func (m *consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.sh.close()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.sh.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				m.input.SetValue("")
				m.input.Focus()
				m.state = stateInputArgs

			case stateInputArgs:
				m.input.Blur()
				return m, m.callOp

			case stateShowResult:
				m.state = stateSelectOp
				m.record = ""
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.input.Blur()
				m.state = stateSelectOp
			case stateShowResult:
				m.state = stateSelectOp
				m.record = ""
			}
		}

	case callDoneMsg:
		m.record = msg.record
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

// callOp runs as a command so a slow async op never freezes the UI. The
// state machine allows one call at a time, which keeps the shell on a
// single logical thread.
func (m *consoleModel) callOp() tea.Msg {
	op := m.ops[m.selected]
	return callDoneMsg{record: m.sh.call(op.key, m.input.Value())}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("opshell"))
	b.WriteString(" ")
	b.WriteString(m.sh.instanceID())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an op to dispatch:\n\n")
		for i, op := range m.ops {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatOp(op)))
			} else {
				b.WriteString(cursor + m.formatOp(op))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d pending · %d open resource(s)",
			m.sh.pendingCount(), m.sh.resourceCount())))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter args • q quit"))

	case stateInputArgs:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", opStyle.Render(op.key)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("JSON argument array • enter dispatch • esc back"))

	case stateShowResult:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", opStyle.Render(op.key)))
		if gjson.Get(m.record, "status").String() == "resolved" {
			b.WriteString(resultStyle.Render(m.record))
		} else {
			b.WriteString(errorStyle.Render(m.record))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *consoleModel) formatOp(op opInfo) string {
	return opStyle.Render(op.key) + " " + modeStyle.Render(op.mode)
}

func runInteractive(cfg Config, cat *ops.Catalog) error {
	sh, err := newShell(cfg, cat)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newConsoleModel(sh), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
