package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/atom/artifact"
	"github.com/chazu/atom/manifest"
	"github.com/chazu/atom/optional"
	"github.com/chazu/atom/vm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// source is one artifact to run.
type source struct {
	name string
	data []byte
}

func runRoot(cmd *cobra.Command, args []string) error {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return &exitError{code: exitLoad, err: err}
	}

	var sources []source
	switch {
	case flagCmd != "":
		sources = append(sources, source{name: "<cmd>", data: []byte(flagCmd)})
	case len(args) > 0:
		for _, p := range args {
			data, err := os.ReadFile(p)
			if err != nil {
				return &exitError{code: exitIO, err: fmt.Errorf("cannot open file at %q: %w", p, err)}
			}
			sources = append(sources, source{name: p, data: data})
		}
	case m.EntryPath() != "":
		p := m.EntryPath()
		data, err := os.ReadFile(p)
		if err != nil {
			return &exitError{code: exitIO, err: fmt.Errorf("cannot open file at %q: %w", p, err)}
		}
		sources = append(sources, source{name: p, data: data})
	default:
		printBanner()
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return &exitError{code: exitIO, err: err}
		}
		sources = append(sources, source{name: "<stdin>", data: data})
	}

	cache := openCache(m)
	if len(sources) == 1 {
		return runOne(m, cache, sources[0], os.Stdout, args)
	}
	return runMany(m, cache, sources, args)
}

func openCache(m *manifest.Manifest) *artifact.Cache {
	dir, ok := m.CacheDir()
	if !ok || flagNoCache {
		return nil
	}
	c, err := artifact.OpenCache(dir)
	if err != nil {
		cliLog.Warningf("cache disabled: %s", err)
		return nil
	}
	return c
}

// runMany runs each artifact in its own VM. Output is buffered per VM and
// flushed in argument order; the first failing artifact decides the exit
// code.
func runMany(m *manifest.Manifest, cache *artifact.Cache, sources []source, argv []string) error {
	outs := make([]bytes.Buffer, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			errs[i] = runOne(m, cache, src, &outs[i], argv)
			return nil
		})
	}
	_ = g.Wait()

	for i := range sources {
		os.Stdout.Write(outs[i].Bytes())
	}
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ee *exitError
		if errors.As(err, &ee) && ee.err != nil {
			printError(ee.err)
			err = &exitError{code: ee.code}
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// runOne decodes, loads and runs a single artifact.
func runOne(m *manifest.Manifest, cache *artifact.Cache, src source, out io.Writer, argv []string) error {
	u, err := cache.DecodeCached(src.data)
	if err != nil {
		return &exitError{code: exitLoad, err: fmt.Errorf("%s: Unable to parse JSON executable file: %w", src.name, err)}
	}

	opts := m.Options()
	d := &vm.Delegate{}
	if opts.Delegate != nil {
		*d = *opts.Delegate
	}
	d.Write = func(s string) { io.WriteString(out, s) }
	d.Exit = func(code int) { cliLog.Debugf("%s: System.exit(%d)", src.name, code) }
	opts.Delegate = d

	v := vm.New(opts)
	defer v.Close()
	optional.RegisterMath(v)
	optional.RegisterEnv(v, argv)
	optional.RegisterFile(v)
	optional.RegisterJSON(v)

	if flagDebug {
		listing, err := v.DisassembleUnit(u)
		if err != nil {
			return &exitError{code: exitLoad, err: err}
		}
		stderrMu.Lock()
		fmt.Fprintln(os.Stderr, listing)
		stderrMu.Unlock()
	}

	entry, err := v.Load(u)
	if err != nil {
		return &exitError{code: exitLoad, err: err}
	}
	cliLog.Infof("%s: loaded %d objects", src.name, len(u.Objects))

	res, err := v.RunMain(entry)
	if exited, code := v.Exited(); exited {
		return &exitError{code: code}
	}
	if err != nil {
		stderrMu.Lock()
		writeError(os.Stderr, src.name, err)
		stderrMu.Unlock()
		return &exitError{code: exitCodeOf(err)}
	}
	if flagDebug && !res.IsNullLike() {
		cliLog.Debugf("%s: result %s", src.name, v.ValueString(res))
	}
	return nil
}

func exitCodeOf(err error) int {
	var re *vm.RuntimeError
	if errors.As(err, &re) {
		switch re.Kind {
		case vm.ErrorCompile:
			return exitLoad
		case vm.ErrorIO:
			return exitIO
		}
	}
	return exitRuntime
}
