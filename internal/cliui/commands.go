package cliui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/flmrun/flm/internal/generate"
)

// runCommand dispatches a leading-slash input line, mirroring the
// original runner's /set, /show, /clear, /save, /bye command set.
func (m Model) runCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/bye":
		return m, tea.Quit

	case "/clear":
		m.fam.ClearContext()
		m.messages = nil
		m.appendSystem("Context cleared.")
		return m, nil

	case "/verbose":
		m.verbose = !m.verbose
		m.appendSystem(fmt.Sprintf("Verbose timing: %v", m.verbose))
		return m, nil

	case "/show":
		m.appendSystem(showText(m))
		return m, nil

	case "/history":
		m.appendSystem(historyText(m.fam.GetHistory()))
		return m, nil

	case "/set":
		if err := m.applySet(args); err != nil {
			m.appendSystem("error: " + err.Error())
		} else {
			m.appendSystem(showText(m))
		}
		return m, nil

	case "/save":
		path, err := m.saveHistory()
		if err != nil {
			m.appendSystem("error: " + err.Error())
		} else {
			m.appendSystem("History saved to " + path)
		}
		return m, nil

	case "/help":
		m.appendSystem(helpText)
		return m, nil

	default:
		m.appendSystem("Unknown command: " + cmd + " (try /help)")
		return m, nil
	}
}

const helpText = `Commands:
  /bye               exit the REPL
  /clear             clear conversation history and KV cache
  /show              show the loaded model tag and sampling parameters
  /set <p> <v>       set a sampling parameter: temperature, top_p, top_k, repeat_penalty, frequency_penalty
  /history           print the accumulated chat turns
  /save              save the chat history to a timestamped file
  /verbose           toggle per-turn timing after each reply
  /help              show this message
Esc cancels an in-flight generation. Ctrl+V pastes from the clipboard.`

func showText(m Model) string {
	return fmt.Sprintf("model: %s\ntemperature=%.2f top_p=%.2f top_k=%d repeat_penalty=%.2f frequency_penalty=%.2f",
		m.modelTag, m.params.Temperature, m.params.TopP, m.params.TopK, m.params.RepPenalty, m.params.FreqPenalty)
}

func historyText(msgs []generate.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	if b.Len() == 0 {
		return "(no history yet)"
	}
	return b.String()
}

// applySet mutates m.params in place for the named parameter.
func (m *Model) applySet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: /set <parameter> <value>")
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	switch args[0] {
	case "temperature":
		m.params.Temperature = value
	case "top_p":
		m.params.TopP = value
	case "top_k":
		m.params.TopK = int(value)
	case "repeat_penalty":
		m.params.RepPenalty = value
	case "frequency_penalty":
		m.params.FreqPenalty = value
	default:
		return fmt.Errorf("unknown parameter %q", args[0])
	}
	return nil
}

// saveHistory writes the accumulated chat turns to
// <modelRoot>/history/history_<hh_mm_mon_day_year>.txt, matching the
// original runner's save-file naming.
func (m Model) saveHistory() (string, error) {
	dir := filepath.Join(m.historyNS, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := "history_" + time.Now().Format("15_04_01_02_2006") + ".txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(historyText(m.fam.GetHistory())), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func verboseLine(meta *generate.Meta) string {
	return fmt.Sprintf("prompt_tokens=%d generated_tokens=%d prefill=%.3fs decode=%.3fs total=%.3fs stop=%s",
		meta.PromptTokens, meta.GeneratedTokens,
		float64(meta.PrefillNs)/1e9, float64(meta.DecodeNs)/1e9, float64(meta.TotalNs)/1e9,
		meta.StopReason.String())
}
