package cliui

import (
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.Width = m.width - 2
		m.chat.Height = m.chatHeight()
		m.input.SetWidth(m.width - 4)
		m.refreshChat()
		return m, nil

	case resourceTickMsg:
		m.resourceData = msg.text
		return m, tickResources()

	case chunkMsg:
		if msg.isThink {
			m.thinking.WriteString(msg.text)
		} else {
			m.pending.WriteString(msg.text)
		}
		m.renderInFlight()
		return m, waitForChunk(m.chunkCh, m.doneCh)

	case turnDoneMsg:
		m.finishGeneration(msg)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.generating && m.cancelToken != nil {
				m.cancelToken.Cancel()
			}
			return m, nil
		case "ctrl+v":
			if text, err := clipboard.ReadAll(); err == nil {
				m.input.SetValue(m.input.Value() + text)
			}
			return m, nil
		case "enter":
			if m.generating {
				return m, nil
			}
			input := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				return m.runCommand(input)
			}
			m.messages = append(m.messages, userMessageStyle.Render("You: "+input))
			m.refreshChat()
			return m, m.startGeneration(input)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// chatHeight reserves room for the header, footer, and input bar.
func (m Model) chatHeight() int {
	h := m.height - 6
	if h < 6 {
		h = 6
	}
	return h
}

// renderInFlight refreshes the scrollback with the reasoning/response
// text accumulated so far for the turn in progress, without finalizing
// it into m.messages yet.
func (m *Model) renderInFlight() {
	width := m.width - 4
	if width < 10 {
		width = 76
	}
	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(msg)
		b.WriteString("\n\n")
	}
	if m.thinking.Len() > 0 {
		b.WriteString(reasoningMessageStyle.Render(m.thinking.String()))
		b.WriteString("\n\n")
	}
	b.WriteString(assistantMessageStyle.Render("Assistant: " + m.pending.String()))
	m.chat.SetContent(b.String())
	m.chat.GotoBottom()
}

func (m *Model) finishGeneration(result turnDoneMsg) {
	m.generating = false
	if result.err != nil {
		m.messages = append(m.messages, errorStyle.Render("error: "+result.err.Error()))
		m.refreshChat()
		return
	}
	m.messages = append(m.messages, assistantMessageStyle.Render("Assistant: "+m.pending.String()))
	if m.verbose && result.meta != nil {
		m.messages = append(m.messages, helpStyle.Render(verboseLine(result.meta)))
	}
	m.refreshChat()
}

func (m Model) View() string {
	header := headerStyle.Width(m.width).Render(" flm chat | " + m.modelTag + " | esc=cancel ctrl+c=quit")
	footer := footerStyle.Width(m.width).Render(m.resourceData)
	chat := chatViewStyle.Width(m.width - 2).Height(m.chatHeight()).Render(m.chat.View())
	input := inputStyle.Width(m.width - 4).Render(m.input.View())
	return header + "\n" + chat + "\n" + input + "\n" + footer
}
