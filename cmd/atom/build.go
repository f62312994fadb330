package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/atom/artifact"
	"github.com/chazu/atom/manifest"
	"github.com/spf13/cobra"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build <artifact.json>",
	Short: "Convert a JSON executable into a binary image",
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
		img, err := artifact.MarshalImage(u)
		if err != nil {
			return &exitError{code: exitLoad, err: err}
		}

		out := buildOutput
		if out == "" {
			m, err := manifest.FindAndLoad(".")
			if err != nil {
				return &exitError{code: exitLoad, err: err}
			}
			if m != nil {
				out = m.BuildOutputPath()
			} else {
				out = trimExt(args[0]) + ".atomi"
			}
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return &exitError{code: exitIO, err: err}
		}
		if err := os.WriteFile(out, img, 0o644); err != nil {
			return &exitError{code: exitIO, err: err}
		}
		cliLog.Infof("wrote %s (%d bytes)", out, len(img))
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "image path (default from atom.toml, else <input>.atomi)")
}

func trimExt(p string) string {
	return p[:len(p)-len(filepath.Ext(p))]
}
