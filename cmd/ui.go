package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// UISpinner wraps spinner for terminal output. It degrades to plain lines
// when stdout is not a terminal or verbose logging is on.
type UISpinner struct {
	sp    *spinner.Spinner
	plain bool
}

// NewUISpinner creates and starts a spinner with the given message
func NewUISpinner(message string) *UISpinner {
	s := &UISpinner{plain: verbose || !term.IsTerminal(int(os.Stdout.Fd()))}

	if !s.plain {
		// Use dots spinner style (CharSet 14)
		s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.sp.Prefix = "  "
		s.sp.Suffix = " " + message
		s.sp.Start()
	} else {
		fmt.Printf("  %s\n", message)
	}
	return s
}

// Success stops the spinner and prints a success message
func (s *UISpinner) Success(message string) {
	s.Stop()
	fmt.Printf("  ✓ %s\n", message)
}

// Fail stops the spinner and prints an error message
func (s *UISpinner) Fail(message string) {
	s.Stop()
	fmt.Printf("  ✗ %s\n", message)
}

// Stop stops the spinner without printing anything
func (s *UISpinner) Stop() {
	if s.sp != nil && s.sp.Active() {
		s.sp.Stop()
		fmt.Print("\r\033[K") // Clear the line
	}
}
