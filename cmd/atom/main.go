// atom runs compiled atom artifacts.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

var cliLog = commonlog.GetLogger("atom.cli")

// Exit codes.
const (
	exitOK      = 0
	exitLoad    = 1
	exitRuntime = 2
	exitIO      = 3
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var (
	flagCmd     string
	flagDebug   bool
	flagQuiet   bool
	flagVerbose bool
	flagNoCache bool
)

var rootCmd = &cobra.Command{
	Use:   "atom [flags] [artifact...]",
	Short: "Run compiled atom programs",
	Long: `atom runs JSON executables or binary images produced by the atom compiler.
With no artifact it reads one from standard input. Several artifacts run
concurrently, each in its own VM.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbosity := 0
		switch {
		case flagDebug:
			verbosity = 2
		case flagVerbose:
			verbosity = 1
		}
		commonlog.Configure(verbosity, nil)
	},
	RunE: runRoot,
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(disasmCmd)

	rootCmd.Flags().StringVarP(&flagCmd, "cmd", "c", "", "run an inline JSON artifact")
	rootCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "do not print the banner")
	rootCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "bypass the decoded-artifact cache")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "disassemble loaded code and log at debug level")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log at info level")

	err := rootCmd.Execute()
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printError(ee.err)
		}
		return ee.code
	}
	printError(err)
	return exitLoad
}
