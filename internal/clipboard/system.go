package clipboard

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// ReadWriter is the narrow system clipboard interface the monitor polls.
type ReadWriter interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// System is the production ReadWriter backed by the OS clipboard.
type System struct{}

// NewSystem returns the OS clipboard accessor.
func NewSystem() *System { return &System{} }

// ReadText returns the current clipboard text.
func (*System) ReadText() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return text, nil
}

// WriteText replaces the clipboard contents.
func (*System) WriteText(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}
