package cli

import (
	goerrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/dimfeld/rmplan/internal/db/driver"
	"github.com/dimfeld/rmplan/internal/errors"
	"github.com/dimfeld/rmplan/internal/lock"
)

var (
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// useColor reports whether styled output should be emitted.
func useColor() bool {
	return !noColor && isatty.IsTerminal(os.Stdout.Fd())
}

func dim(s string) string {
	if useColor() {
		return styleDim.Render(s)
	}
	return s
}

func warn(s string) string {
	if useColor() {
		return styleWarn.Render(s)
	}
	return s
}

// termWidth returns the terminal width, defaulting to 80 when stdout is
// not a terminal.
func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// truncate shortens s to at most max runes, ellipsized.
func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// printError writes err to stderr, using the structured form when the
// error carries one.
func printError(err error) {
	var stateErr *errors.StateError
	if goerrors.As(err, &stateErr) {
		msg := stateErr.UserMessage()
		if useColor() {
			msg = styleErr.Render("Error:") + strings.TrimPrefix(msg, "Error:")
		}
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// exitCode maps an error to the process exit code. Structured errors
// carry their own category; lock conflicts and driver busy errors map to
// the conflict code; everything else is a generic failure.
func exitCode(err error) int {
	var stateErr *errors.StateError
	if goerrors.As(err, &stateErr) {
		return stateErr.ExitCode()
	}
	var locked *lock.AlreadyLockedError
	if goerrors.As(err, &locked) {
		return errors.CategoryConflict.ExitCode()
	}
	if driver.IsBusy(err) {
		return errors.ErrStorageBusy().ExitCode()
	}
	return 1
}
