package commands

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/cmd/tilepack/opts"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/operation"
	"github.com/walteh/tilepack/pkg/status"
)

const packageUsage = "directory, .3tz, .3dtiles, http(s):// or s3:// location"

// NewConvertCmd creates the convert command
func NewConvertCmd(o *opts.RootOpts) *cobra.Command {
	var (
		flags      opts.IOFlags
		descriptor string
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy a tileset package into another backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			tracker := status.New(zerolog.Ctx(cmd.Context()))
			op := &operation.Convert{
				Input:           flags.Input,
				Output:          flags.Output,
				Force:           flags.Force,
				InputDescriptor: descriptor,
				Env:             o.Env(tracker),
			}
			return o.Run(cmd.Context(), op, log.OperationInfo{Name: "convert", Input: flags.Input, Output: flags.Output}, tracker)
		},
	}

	flags.AddFlags(cmd.Flags(), "input package, "+packageUsage, "output package, "+packageUsage)
	cmd.Flags().StringVar(&descriptor, "input-tileset-json", "", "descriptor key of the input when it is not tileset.json")
	return cmd
}

// NewCombineCmd creates the combine command
func NewCombineCmd(o *opts.RootOpts) *cobra.Command {
	var flags opts.IOFlags

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Inline external tilesets into a single descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			tracker := status.New(zerolog.Ctx(cmd.Context()))
			op := &operation.Combine{Input: flags.Input, Output: flags.Output, Force: flags.Force, Env: o.Env(tracker)}
			return o.Run(cmd.Context(), op, log.OperationInfo{Name: "combine", Input: flags.Input, Output: flags.Output}, tracker)
		},
	}

	flags.AddFlags(cmd.Flags(), "input package, "+packageUsage, "output package, "+packageUsage)
	return cmd
}

// NewMergeCmd creates the merge command
func NewMergeCmd(o *opts.RootOpts) *cobra.Command {
	var (
		inputs []string
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge several tileset packages under one root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return errors.New("at least one --input is required")
			}
			if output == "" {
				return errors.New("--output is required")
			}
			tracker := status.New(zerolog.Ctx(cmd.Context()))
			op := &operation.Merge{Inputs: inputs, Output: output, Force: force, Env: o.Env(tracker)}
			info := log.OperationInfo{Name: "merge", Input: strings.Join(inputs, ", "), Output: output}
			return o.Run(cmd.Context(), op, info, tracker)
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "input package, repeated for every input")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output package, "+packageUsage)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing output")
	return cmd
}

// NewUpgradeCmd creates the upgrade command
func NewUpgradeCmd(o *opts.RootOpts) *cobra.Command {
	var (
		flags         opts.IOFlags
		targetVersion string
		options       external.UpgradeOptions
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade descriptors and tile contents to a newer 3D Tiles version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			tracker := status.New(zerolog.Ctx(cmd.Context()))
			op := &operation.Upgrade{
				Input:         flags.Input,
				Output:        flags.Output,
				Force:         flags.Force,
				TargetVersion: targetVersion,
				Options:       options,
				Env:           o.Env(tracker),
			}
			return o.Run(cmd.Context(), op, log.OperationInfo{Name: "upgrade", Input: flags.Input, Output: flags.Output}, tracker)
		},
	}

	flags.AddFlags(cmd.Flags(), "input package, "+packageUsage, "output package, "+packageUsage)
	cmd.Flags().StringVar(&targetVersion, "target-version", "1.1", "asset version to produce (1.0 or 1.1)")
	cmd.Flags().BoolVar(&options.KeepUnusedElements, "keep-unused-elements", false, "keep unused glTF elements")
	cmd.Flags().BoolVar(&options.KeepLegacyExtensions, "keep-legacy-extensions", false, "keep glTF 1.0 extensions")
	return cmd
}
