package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chazu/atom/vm"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	traceColor = color.New(color.FgYellow)
	noteColor  = color.New(color.FgCyan)
)

var stderrMu sync.Mutex

func init() {
	if !isTerminal(os.Stderr) {
		color.NoColor = true
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printBanner() {
	if flagQuiet || !isTerminal(os.Stderr) {
		return
	}
	noteColor.Fprintf(os.Stderr, "atom %s: reading an artifact from standard input\n", version)
}

// printError reports err on stderr. Runtime errors get their location.
func printError(err error) {
	stderrMu.Lock()
	defer stderrMu.Unlock()
	writeError(os.Stderr, "", err)
}

func writeError(w io.Writer, name string, err error) {
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		errorColor.Fprint(w, "Error: ")
		fmt.Fprintln(w, err)
		return
	}
	errorColor.Fprint(w, "Error: ")
	fmt.Fprintln(w, re.Message)
	if re.Function == "" {
		return
	}
	if name == "" {
		name = "<stdin>"
	}
	traceColor.Fprintf(w, "  %s() [%q:%d]\n", re.Function, name, re.Line)
}
