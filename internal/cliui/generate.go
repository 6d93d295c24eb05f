package cliui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/runtimestate"
)

// resourceTickMsg carries the latest CPU/RAM line for the footer.
type resourceTickMsg struct{ text string }

// chunkMsg is one streamed piece of generated text.
type chunkMsg struct {
	text    string
	isThink bool
}

// turnDoneMsg reports a turn's outcome once Generate returns.
type turnDoneMsg struct {
	meta *generate.Meta
	err  error
}

// waitForChunk returns a tea.Cmd that blocks for the next streamed
// piece or the turn's completion, whichever comes first — the standard
// bubbletea pattern for draining a channel one message at a time.
func waitForChunk(chunkCh chan chunkMsg, doneCh chan turnDoneMsg) tea.Cmd {
	return func() tea.Msg {
		select {
		case c, ok := <-chunkCh:
			if !ok {
				return nil
			}
			return c
		case d := <-doneCh:
			return d
		}
	}
}

// startGeneration runs one chat turn on its own goroutine, streaming
// chunks onto chunkCh and the final result onto doneCh, and returns the
// tea.Cmd that starts draining them.
func (m *Model) startGeneration(userText string) tea.Cmd {
	m.chunkCh = make(chan chunkMsg, 64)
	m.doneCh = make(chan turnDoneMsg, 1)
	m.cancelToken = &runtimestate.CancelToken{}
	m.generating = true
	m.pending.Reset()
	m.thinking.Reset()

	fam := m.fam
	cfg := generate.Config{MaxTokens: m.maxTokens, Params: m.params, Cancel: m.cancelToken}
	msgs := []generate.Message{{Role: "user", Content: userText}}
	chunkCh := m.chunkCh
	doneCh := m.doneCh

	go func() {
		meta, err := fam.Generate(msgs, cfg, func(c generate.Chunk) {
			chunkCh <- chunkMsg{text: c.Text, isThink: c.Part == generate.PartReasoning}
		})
		doneCh <- turnDoneMsg{meta: meta, err: err}
	}()

	return waitForChunk(chunkCh, doneCh)
}
