// Package cliui implements the interactive REPL: a bubbletea chat view
// plus a one-line input, streaming generated tokens as they arrive and
// exposing a handful of slash commands over the loaded model family.
package cliui

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"github.com/flmrun/flm/internal/family"
	"github.com/flmrun/flm/internal/runtimestate"
	"github.com/flmrun/flm/internal/sampler"
)

// Model is the REPL's bubbletea state: the loaded family instance, the
// scrollback and input widgets, the in-flight generation (if any), and
// the sampling defaults slash commands adjust.
type Model struct {
	fam       family.Family
	modelTag  string
	historyNS string // model root, for /save's history directory

	chat  viewport.Model
	input textarea.Model

	messages []string // rendered chat lines, oldest first
	width    int
	height   int

	resourceData string
	verbose      bool

	params    sampler.Params
	maxTokens int

	generating  bool
	cancelToken *runtimestate.CancelToken
	chunkCh     chan chunkMsg
	doneCh      chan turnDoneMsg
	pending     *strings.Builder
	thinking    *strings.Builder
}

// NewModel builds a REPL ready to run against an already-loaded family
// instance. modelRoot is only used to locate /save's history directory.
func NewModel(fam family.Family, modelTag, modelRoot string) Model {
	chat := viewport.New(80, 16)
	chat.Style = chatViewStyle

	input := textarea.New()
	input.Placeholder = "Type a message, or /help for commands..."
	input.Prompt = ""
	input.ShowLineNumbers = false
	input.SetHeight(1)
	input.SetWidth(76)
	input.Focus()

	m := Model{
		fam:       fam,
		modelTag:  modelTag,
		historyNS: modelRoot,
		chat:      chat,
		input:     input,
		width:     80,
		height:    24,
		params:    sampler.Params{Temperature: 0.7, TopP: 0.9, TopK: 40, RepPenalty: 1.1},
		maxTokens: -1,
		pending:   &strings.Builder{},
		thinking:  &strings.Builder{},
	}
	m.appendSystem("Connected to " + modelTag + ". Type /help for commands.")
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.ClearScreen, tickResources())
}

// appendSystem adds a plain info line to the transcript.
func (m *Model) appendSystem(text string) {
	m.messages = append(m.messages, infoStyle.Render(text))
	m.refreshChat()
}

func (m *Model) refreshChat() {
	width := m.width - 4
	if width < 10 {
		width = 76
	}
	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(ansi.Wordwrap(msg, width, " \t"))
		b.WriteString("\n\n")
	}
	m.chat.SetContent(b.String())
	m.chat.GotoBottom()
}

func tickResources() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		var cpuPct float64
		if pcts, err := psutil.Percent(0, false); err == nil && len(pcts) > 0 {
			cpuPct = pcts[0]
		}
		var memPct float64
		if mem, err := psmem.VirtualMemory(); err == nil {
			memPct = mem.UsedPercent
		}
		return resourceTickMsg{text: resourceLine(cpuPct, memPct)}
	})
}

func resourceLine(cpuPct, memPct float64) string {
	return fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | Go: %s", cpuPct, memPct, runtime.Version())
}
