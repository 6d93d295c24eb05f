package cliui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/flmrun/flm/internal/family"
)

// Run starts the interactive chat REPL against an already-loaded model
// family and blocks until the user quits.
func Run(fam family.Family, modelTag, modelRoot string) error {
	model := NewModel(fam, modelTag, modelRoot)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
