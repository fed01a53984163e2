// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command fixedview decodes and checks dumped container images.
//
//	fixedview dump --layout map.toml core.bin
//	fixedview verify --layout list.toml --format text core.bin
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/fixed/internal/inspect"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errProblems = errors.New("image has structural problems")

type flags struct {
	layout  string
	format  string
	verbose bool
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:          "fixedview",
		Short:        "Inspect fixed-capacity container images",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&f.layout, "layout", "", "TOML layout descriptor of the image")
	cmd.PersistentFlags().StringVar(&f.format, "format", string(inspect.FormatJSON), "output format: json or text")
	cmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
	_ = cmd.MarkPersistentFlagRequired("layout")

	cmd.AddCommand(dumpCommand(f), verifyCommand(f))
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// load reads the descriptor and the image at path.
func load(f *flags, logger *zap.Logger, path string) (inspect.Layout, inspect.Format, []byte, error) {
	format, err := inspect.ParseFormat(f.format)
	if err != nil {
		return inspect.Layout{}, "", nil, err
	}
	layout, err := inspect.LoadLayout(f.layout)
	if err != nil {
		return inspect.Layout{}, "", nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return inspect.Layout{}, "", nil, err
	}
	logger.Debug("loaded image",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("kind", string(layout.Kind)),
		zap.Int("capacity", layout.Capacity),
		zap.Int64("offset", layout.Offset),
		zap.Uint64("layout-size", uint64(layout.Size())))
	return layout, format, data, nil
}

// run builds the logger and runs fn with it.
func run(f *flags, fn func(logger *zap.Logger) error) error {
	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if err := fn(logger); err != nil {
		logger.Debug("command failed", zap.Error(err))
		return err
	}
	return nil
}

func dumpCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <image>",
		Short: "Print the elements of a container image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f, func(logger *zap.Logger) error {
				layout, format, data, err := load(f, logger, args[0])
				if err != nil {
					return err
				}
				img, decodeErr := inspect.Decode(layout, data)
				if img == nil {
					return decodeErr
				}
				// A corrupt image still reports the elements read before the
				// corruption.
				if err := inspect.WriteImage(cmd.OutOrStdout(), img, format); err != nil {
					return err
				}
				return decodeErr
			})
		},
	}
}

func verifyCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <image>",
		Short: "Check the links and recorded sizes of a container image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f, func(logger *zap.Logger) error {
				layout, format, data, err := load(f, logger, args[0])
				if err != nil {
					return err
				}
				problems, err := inspect.Verify(layout, data)
				if err != nil {
					return err
				}
				for _, p := range problems {
					logger.Warn("structural problem",
						zap.Uint64("slot", p.Index), zap.String("problem", p.Message))
				}
				if err := inspect.WriteProblems(cmd.OutOrStdout(), layout.Kind, problems, format); err != nil {
					return err
				}
				if len(problems) > 0 {
					return fmt.Errorf("%w: %d found", errProblems, len(problems))
				}
				return nil
			})
		},
	}
}
