package commands

import (
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/cmd/tilepack/opts"
	"github.com/walteh/tilepack/pkg/implicit"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/operation"
)

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd(o *opts.RootOpts) *cobra.Command {
	var (
		flags         opts.IOFlags
		scheme        opts.SchemeValue
		subtreeLevels uint
		maximumLevel  uint
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Split a tile content file into inspectable parts",
		Long: `Analyze writes the parts of a tile content file next to each other:
the segment layout, the feature and batch tables, the GLB and its JSON.
Composite tiles are analyzed per inner tile. For subtree files, pass the
implicit tiling to get an availability summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}

			op := &operation.Analyze{Input: flags.Input, OutputDir: flags.Output, Force: flags.Force}
			if scheme != "" {
				if subtreeLevels == 0 {
					return errors.New("--subtree-levels is required with --subdivision-scheme")
				}
				op.Tiling = &implicit.Tiling{
					SubdivisionScheme: implicit.SubdivisionScheme(scheme),
					SubtreeLevels:     subtreeLevels,
					MaximumLevel:      maximumLevel,
				}
			}
			return o.Run(cmd.Context(), op, log.OperationInfo{Name: "analyze", Input: flags.Input, Output: flags.Output}, nil)
		},
	}

	flags.AddFlags(cmd.Flags(), "input tile content or subtree file", "output directory")
	cmd.Flags().Var(&scheme, "subdivision-scheme", "implicit tiling scheme of a subtree (QUADTREE or OCTREE)")
	cmd.Flags().UintVar(&subtreeLevels, "subtree-levels", 0, "implicit tiling subtree levels")
	cmd.Flags().UintVar(&maximumLevel, "maximum-level", 0, "implicit tiling maximum level")
	return cmd
}
