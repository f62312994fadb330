package main

import (
	"fmt"
	"os"

	"github.com/chazu/atom/artifact"
	"github.com/chazu/atom/vm"
	"github.com/spf13/cobra"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <artifact>",
	Short: "Print the bytecode of every function in an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return &exitError{code: exitIO, err: err}
		}
		u, err := artifact.Decode(data)
		if err != nil {
			return &exitError{code: exitLoad, err: fmt.Errorf("%s: %w", args[0], err)}
		}
		v := vm.NewDefault()
		defer v.Close()
		listing, err := v.DisassembleUnit(u)
		if err != nil {
			return &exitError{code: exitLoad, err: err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), listing)
		return nil
	},
}
