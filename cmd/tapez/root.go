package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez/parser"
	"go.uber.org/zap"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// app is the state shared by every subcommand.
type app struct {
	out    io.Writer
	logger *zap.Logger
	cfg    Config
	format string
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "tapez",
		Short: "Inspect execution tapes recorded by tapez",
		Long: `tapez reads tape files written by the tapez recorder and prints their
threads, span trees, events and duration statistics.

Each tape path is loaded independently; arguments may be glob patterns
such as 'traces/**/*.tape'. Configuration is read from TAPEZ_LOG_LEVEL,
TAPEZ_LOG_DEV and TAPEZ_PARALLELISM, or from a .env file.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch a.format {
			case formatText, formatJSON, formatYAML:
			default:
				return fmt.Errorf("unknown output format %q", a.format)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogConfig)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			a.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.format, "output", "o", formatText, "Output format: text, json or yaml")

	root.AddCommand(
		newInspectCmd(a),
		newTreeCmd(a),
		newEventsCmd(a),
		newStatsCmd(a),
		newRecordDemoCmd(a),
	)
	return root
}

// load reads one tape with the configured parallelism.
func (a *app) load(ctx context.Context, path string) (*parser.Model, error) {
	m, err := parser.LoadFile(ctx, path,
		parser.WithLogger(a.logger.With(zap.String("path", path))),
		parser.WithParallelism(a.cfg.Parallelism))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// expandPaths replaces glob arguments, including ** patterns, with the files
// they match. A pattern matching nothing is an error.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			paths = append(paths, arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no tapes match %q", arg)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// eachTape loads every path and calls fn for each tape that loaded.
// A tape that fails to load does not stop the others.
func (a *app) eachTape(ctx context.Context, args []string, fn func(path string, m *parser.Model) error) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range paths {
		m, err := a.load(ctx, path)
		if err == nil {
			err = fn(path, m)
		}
		if err != nil {
			a.logger.Error("tape failed", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// render writes v as JSON or YAML, or calls text for the text format.
func (a *app) render(v any, text func(io.Writer) error) error {
	switch a.format {
	case formatJSON:
		data, err := sonic.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(a.out, string(data))
		return err
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = a.out.Write(data)
		return err
	default:
		return text(a.out)
	}
}
