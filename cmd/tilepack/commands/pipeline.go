package commands

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/cmd/tilepack/opts"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/pipeline"
)

// tileContentTypes are the types gzipped by gzip --tiles-only
var tileContentTypes = []string{"B3DM", "I3DM", "PNTS", "CMPT", "GLB"}

// NewPipelineCmd creates the pipeline command
func NewPipelineCmd(o *opts.RootOpts) *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run a pipeline file",
		Long: `Pipeline reads a JSON (comments allowed) or YAML pipeline file and runs its
tileset stages from the input package to the output package.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--input is required")
			}
			def, err := pipeline.LoadDefinition(cmd.Context(), file)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), o, "pipeline", def, force)
		},
	}

	cmd.Flags().StringVarP(&file, "input", "i", "", "pipeline file (.json or .yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing output")
	return cmd
}

// NewGzipCmd creates the gzip command
func NewGzipCmd(o *opts.RootOpts) *cobra.Command {
	var (
		flags     opts.IOFlags
		tilesOnly bool
	)

	cmd := &cobra.Command{
		Use:   "gzip",
		Short: "Gzip the entries of a tileset package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), o, "gzip", gzipDefinition(flags, tilesOnly), flags.Force)
		},
	}

	flags.AddFlags(cmd.Flags(), "input package, "+packageUsage, "output package, "+packageUsage)
	cmd.Flags().BoolVarP(&tilesOnly, "tiles-only", "t", false, "only gzip tile content, not descriptors")
	return cmd
}

// NewUngzipCmd creates the ungzip command
func NewUngzipCmd(o *opts.RootOpts) *cobra.Command {
	var flags opts.IOFlags

	cmd := &cobra.Command{
		Use:   "ungzip",
		Short: "Decompress the gzipped entries of a tileset package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), o, "ungzip", ungzipDefinition(flags), flags.Force)
		},
	}

	flags.AddFlags(cmd.Flags(), "input package, "+packageUsage, "output package, "+packageUsage)
	return cmd
}

func gzipDefinition(flags opts.IOFlags, tilesOnly bool) *pipeline.Definition {
	stage := pipeline.TilesetStageDefinition{Name: pipeline.StageGzip}
	if tilesOnly {
		stage.IncludedContentTypes = tileContentTypes
	}
	return &pipeline.Definition{
		Input:         flags.Input,
		Output:        flags.Output,
		TilesetStages: []pipeline.TilesetStageDefinition{stage},
	}
}

func ungzipDefinition(flags opts.IOFlags) *pipeline.Definition {
	return &pipeline.Definition{
		Input:  flags.Input,
		Output: flags.Output,
		TilesetStages: []pipeline.TilesetStageDefinition{{
			Name:          pipeline.StageUngzip,
			ContentStages: []pipeline.ContentStageDefinition{{Name: pipeline.StageUngzip}},
		}},
	}
}

// runPipeline builds def against the configuration and executes it
func runPipeline(ctx context.Context, o *opts.RootOpts, name string, def *pipeline.Definition, force bool) error {
	logger := zerolog.Ctx(ctx)

	p, err := pipeline.Build(ctx, def, pipeline.Env{
		GltfpackPath: o.Config.Gltfpack.Path,
		Upgrader:     o.Config.Upgrader(),
	})
	if err != nil {
		return errors.Errorf("building pipeline: %w", err)
	}

	exec := pipeline.NewExecutor(o.Config.PackageOptions(), o.Metrics)
	exec.Observer = o.Console

	o.Console.StartOperation(ctx, log.OperationInfo{Name: name, Input: p.Input, Output: p.Output})
	runErr := exec.Execute(ctx, p, force)

	if err := o.FlushMetrics(ctx); err != nil {
		logger.Warn().Err(err).Msg("writing metrics")
	}
	if runErr != nil {
		return errors.Errorf("running %s: %w", name, runErr)
	}
	logger.Debug().Str("run", exec.RunID()).Str("state", exec.State().String()).Msg("pipeline finished")
	o.UserLogger.LogResult(name+" finished", nil)
	return nil
}
