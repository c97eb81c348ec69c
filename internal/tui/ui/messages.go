package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// ErrorMsg represents an error that occurred during processing.
type ErrorMsg struct {
	Err error
}

func (e ErrorMsg) Error() string {
	return e.Err.Error()
}

// SuccessMsg indicates a successful operation.
type SuccessMsg struct {
	Message string
}

// NewErrorMsg creates a new error message.
func NewErrorMsg(err error) tea.Msg {
	return ErrorMsg{Err: err}
}

// NewSuccessMsg creates a new success message.
func NewSuccessMsg(message string) tea.Msg {
	return SuccessMsg{Message: message}
}
