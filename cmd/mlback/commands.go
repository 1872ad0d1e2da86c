package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mlback/pkg/config"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
	"mlback/pkg/irtext"
	"mlback/pkg/pipeline"
	"mlback/pkg/simplify"
)

// Exit codes.
const (
	codeFailure  = 1
	codeUncaught = 2
	codeNoTarget = 3
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	config  string
	verbose bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "mlback",
		Short:         "Back end for tree IR: simplifier, code generator and reference machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.config)
			if err != nil {
				return err
			}
			level, err := cfg.Level()
			if err != nil {
				return err
			}
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.cfg = cfg
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newSimplifyCommand(opts))
	cmd.AddCommand(newGenCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func readUnit(path string) (pipeline.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Unit{}, err
	}
	fns, err := irtext.ParseUnit(string(data))
	if err != nil {
		return pipeline.Unit{}, fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return pipeline.Unit{Name: name, Funcs: fns}, nil
}

func newSimplifyCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simplify <unit.ir>",
		Short: "Print the simplified form of every function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := readUnit(args[0])
			if err != nil {
				return err
			}
			opts := pipeline.FromConfig(root.cfg, root.logger).Simplify
			w := cmd.OutOrStdout()
			for _, l := range u.Funcs {
				res, err := simplify.RunContext(cmd.Context(), l.Body, l.LocalCount, opts)
				if err != nil {
					return fmt.Errorf("%s: %w", l.Name, err)
				}
				out := *l
				out.Body, out.LocalCount = res.Expr, res.LocalCount
				fmt.Fprintf(w, "; %s: %d passes\n%s\n", l.Name, res.Passes, out.String())
			}
			return nil
		},
	}
}

func compile(ctx context.Context, root *rootOptions, path string) (*pipeline.Output, error) {
	u, err := readUnit(path)
	if err != nil {
		return nil, err
	}
	return pipeline.CompileUnit(ctx, u, pipeline.FromConfig(root.cfg, root.logger))
}

func newGenCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gen <unit.ir>",
		Short: "Print the generated code of every function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := compile(cmd.Context(), root, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range out.Reports {
				fmt.Fprintf(w, "; %s: %s, %d passes, frame %d words\n", r.Name, r.Status, r.Passes, r.MaxStack)
			}
			for _, f := range out.Program.Funcs {
				io.WriteString(w, f.Listing())
			}
			return nil
		},
	}
}

type runOptions struct {
	steps bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <unit.ir> <function> [int...]",
		Short: "Compile a unit and call one function on the reference machine",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := compile(cmd.Context(), root, args[0])
			if err != nil {
				return err
			}
			entry, ok := out.Entries[args[1]]
			if !ok {
				return fmt.Errorf("no function %q in %s", args[1], args[0])
			}
			words := make([]uint64, 0, len(args)-2)
			for _, a := range args[2:] {
				n, err := strconv.ParseInt(a, 10, 64)
				if err != nil || !ir.Tagable(n) {
					return fmt.Errorf("argument %q is not a tagged integer", a)
				}
				words = append(words, ir.Tag(n))
			}

			img, err := out.Link()
			if err != nil {
				return err
			}
			m, err := cpu.New(img, cpu.DefaultConfig())
			if err != nil {
				return err
			}
			res, err := m.Call(img.Objects[entry], words...)
			root.logger.Debug("call finished", "function", args[1], "steps", m.Steps, "heap_traps", m.HeapTraps)
			if err != nil {
				return classify(m, err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, ir.Untag(res))
			if opts.steps {
				fmt.Fprintf(w, "; %d steps, %d bytes of stack\n", m.Steps, m.StackTop()-m.LowWater)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.steps, "steps", false, "print the step count and stack use")
	return cmd
}

func classify(m *cpu.Machine, err error) error {
	var ue *cpu.UncaughtError
	if errors.As(err, &ue) {
		if id, lerr := m.Load(ue.Packet, 8); lerr == nil {
			return &exitError{code: codeUncaught, err: fmt.Errorf("uncaught exception %d", ir.Untag(id))}
		}
		return &exitError{code: codeUncaught, err: err}
	}
	var fe *cpu.FallbackError
	if errors.As(err, &fe) {
		return &exitError{code: codeNoTarget, err: err}
	}
	return &exitError{code: codeFailure, err: err}
}
