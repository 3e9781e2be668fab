package opts

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/config"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/metrics"
	"github.com/walteh/tilepack/pkg/operation"
	"github.com/walteh/tilepack/pkg/status"
)

// RootOpts contains shared options used by all commands
type RootOpts struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	MetricsFile string
	Console     *log.Logger
	UserLogger  *UserLogger
	// Async runs operations so that cancellation returns at once
	Async bool
}

// IOFlags are the input, output and force flags most commands share
type IOFlags struct {
	Input  string
	Output string
	Force  bool
}

// AddFlags registers -i, -o and -f on fs
func (f *IOFlags) AddFlags(fs *pflag.FlagSet, inputUsage, outputUsage string) {
	fs.StringVarP(&f.Input, "input", "i", "", inputUsage)
	fs.StringVarP(&f.Output, "output", "o", "", outputUsage)
	fs.BoolVarP(&f.Force, "force", "f", false, "overwrite existing output")
}

// Validate fails when a required flag is missing
func (f *IOFlags) Validate() error {
	if f.Input == "" {
		return errors.New("--input is required")
	}
	if f.Output == "" {
		return errors.New("--output is required")
	}
	return nil
}

// Env builds the operation collaborators from the configuration. tracker may be nil.
func (o *RootOpts) Env(tracker *status.Tracker) operation.Env {
	return operation.Env{
		Packages: o.Config.PackageOptions(),
		Upgrader: o.Config.Upgrader(),
		Tracker:  tracker,
	}
}

// 🏃 Run executes op, prints what it wrote and flushes the metrics file
func (o *RootOpts) Run(ctx context.Context, op operation.Operation, info log.OperationInfo, tracker *status.Tracker) error {
	logger := zerolog.Ctx(ctx)

	o.Console.StartOperation(ctx, info)
	runErr := operation.NewRunner(logger, o.Async, o.Metrics).Run(ctx, op)

	if tracker != nil {
		entries, err := tracker.ListEntries(ctx)
		if err == nil {
			for _, e := range entries {
				o.Console.LogEntry(ctx, e)
			}
		}
		o.Console.EndOperation(ctx, tracker.Summary())
	}

	if err := o.FlushMetrics(ctx); err != nil {
		logger.Warn().Err(err).Msg("writing metrics")
	}

	if runErr != nil {
		return errors.Errorf("running %s: %w", op.Name(), runErr)
	}
	o.UserLogger.LogResult(op.Name()+" finished", nil)
	return nil
}

// FlushMetrics writes the metrics textfile when one is configured
func (o *RootOpts) FlushMetrics(ctx context.Context) error {
	if o.MetricsFile == "" {
		return nil
	}
	zerolog.Ctx(ctx).Debug().Str("path", o.MetricsFile).Msg("writing metrics")
	return o.Metrics.WriteTextfile(o.MetricsFile)
}
