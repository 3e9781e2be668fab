// Copyright 2025 walteh LLC
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

package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/walteh/tilepack/cmd/tilepack/commands"
	"github.com/walteh/tilepack/cmd/tilepack/opts"
	"github.com/walteh/tilepack/pkg/config"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/metrics"
)

// rootFlags are the persistent flags of every command
type rootFlags struct {
	configFile  string
	debug       bool
	logFile     string
	metricsFile string
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command, f *rootFlags) {
	cmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "config file path (default: .tilepack.{yaml,yml,json,hcl} in the working directory)")
	cmd.PersistentFlags().BoolVarP(&f.debug, "debug", "d", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&f.logFile, "log-file", "", "also write JSON logs to this file, rotated")
	cmd.PersistentFlags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
}

// loadConfig reads the config named by the flags, or the one found in the
// working directory, or the defaults
func loadConfig(ctx context.Context, f *rootFlags) (*config.Config, error) {
	path := f.configFile
	if path == "" {
		path = config.Find(".")
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, errors.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// applyFlags lets command line flags win over the config file
func applyFlags(cfg *config.Config, f *rootFlags) {
	if f.debug {
		cfg.Log.Level = zerolog.DebugLevel.String()
	}
	if f.logFile != "" {
		cfg.Log.File = f.logFile
	}
	if f.metricsFile != "" {
		cfg.MetricsFile = f.metricsFile
	}
}

// setupLogging builds the zerolog logger from the log config. Console
// output is human readable on a terminal and JSON otherwise.
func setupLogging(cfg config.LogConfig, stderr io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = stderr
	if cfg.Format == "console" && isTerminal(stderr) {
		console = zerolog.ConsoleWriter{Out: stderr}
	}

	var (
		out    = console
		closer io.Closer
	)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out = zerolog.MultiLevelWriter(console, rotating)
		closer = rotating
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger, closer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newRootCmd wires every command. The options are filled in by the
// persistent pre-run once flags are parsed.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		flags  rootFlags
		closer io.Closer
	)
	rootOpts := &opts.RootOpts{Async: true}

	cmd := &cobra.Command{
		Use:   "tilepack",
		Short: "Process 3D Tiles tileset packages",
		Long: `tilepack converts, combines, merges, upgrades and transforms 3D Tiles
tilesets stored in directories, 3TZ archives, 3DTILES databases, over HTTP
or in S3, and converts single tile content files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx, &flags)
			if err != nil {
				return err
			}
			applyFlags(cfg, &flags)

			logger, c := setupLogging(cfg.Log, stderr)
			closer = c
			logger.Debug().Str("config", cfg.String()).Str("location", cfg.Location()).Msg("configuration ready")

			rootOpts.Config = cfg
			rootOpts.Metrics = metrics.New()
			rootOpts.MetricsFile = cfg.MetricsFile
			rootOpts.Console = log.New(stdout, &logger)
			rootOpts.UserLogger = opts.NewUserLogger(stderr, logger)

			ctx = logger.WithContext(ctx)
			ctx = log.NewContext(ctx, rootOpts.Console)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closer != nil {
				return closer.Close()
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	addRootFlags(cmd, &flags)

	cmd.AddCommand(commands.NewContentCmds(rootOpts)...)
	cmd.AddCommand(commands.NewOptimizeCmds(rootOpts)...)
	cmd.AddCommand(
		commands.NewAnalyzeCmd(rootOpts),
		commands.NewGzipCmd(rootOpts),
		commands.NewUngzipCmd(rootOpts),
		commands.NewConvertCmd(rootOpts),
		commands.NewCombineCmd(rootOpts),
		commands.NewMergeCmd(rootOpts),
		commands.NewUpgradeCmd(rootOpts),
		commands.NewPipelineCmd(rootOpts),
		newVersionCmd(),
	)
	return cmd
}
