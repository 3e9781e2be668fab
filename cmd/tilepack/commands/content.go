package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/walteh/tilepack/cmd/tilepack/opts"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/log"
	"github.com/walteh/tilepack/pkg/operation"
)

// contentCommand describes a single file conversion
type contentCommand struct {
	use   string
	short string
	in    string
	out   string
	build func(o *opts.RootOpts, io opts.IOFlags) operation.Operation
}

var contentCommands = []contentCommand{
	{
		use: "b3dmToGlb", short: "Extract the GLB of a b3dm file",
		in: "input b3dm file", out: "output glb file",
		build: func(_ *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return operation.NewB3dmToGlb(f.Input, f.Output, f.Force)
		},
	},
	{
		use: "i3dmToGlb", short: "Extract the GLB of an i3dm file",
		in: "input i3dm file", out: "output glb file",
		build: func(_ *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return operation.NewI3dmToGlb(f.Input, f.Output, f.Force)
		},
	},
	{
		use: "cmptToGlb", short: "Extract every GLB of a composite tile",
		in: "input cmpt file", out: "output glb file, suffixed with _<i> for several GLBs",
		build: func(o *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return &operation.CmptToGlb{Input: f.Input, Output: f.Output, Force: f.Force, Env: o.Env(nil)}
		},
	},
	{
		use: "glbToB3dm", short: "Wrap a GLB in a b3dm file",
		in: "input glb file", out: "output b3dm file",
		build: func(_ *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return operation.NewGlbToB3dm(f.Input, f.Output, f.Force)
		},
	},
	{
		use: "glbToI3dm", short: "Wrap a GLB in an i3dm file with one instance",
		in: "input glb file", out: "output i3dm file",
		build: func(_ *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return operation.NewGlbToI3dm(f.Input, f.Output, f.Force)
		},
	},
	{
		use: "createTilesetJson", short: "Create a tileset.json for one content file or a directory of them",
		in: "input content file or directory", out: "output tileset.json file",
		build: func(_ *opts.RootOpts, f opts.IOFlags) operation.Operation {
			return &operation.CreateTilesetJSON{Input: f.Input, Output: f.Output, Force: f.Force}
		},
	},
}

// NewContentCmds creates the single file conversion commands
func NewContentCmds(o *opts.RootOpts) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(contentCommands))
	for _, cc := range contentCommands {
		cmds = append(cmds, newContentCmd(o, cc))
	}
	return cmds
}

func newContentCmd(o *opts.RootOpts, cc contentCommand) *cobra.Command {
	var flags opts.IOFlags

	cmd := &cobra.Command{
		Use:   cc.use,
		Short: cc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			op := cc.build(o, flags)
			return o.Run(cmd.Context(), op, log.OperationInfo{Name: cc.use, Input: flags.Input, Output: flags.Output}, nil)
		},
	}
	flags.AddFlags(cmd.Flags(), cc.in, cc.out)
	return cmd
}

// gltfpackFlags binds the commonly used gltfpack options
func gltfpackFlags(fs *pflag.FlagSet, o *external.GltfpackOptions) {
	fs.BoolVar(&o.Compress, "compress", false, "gltfpack -c: compress with meshopt")
	fs.BoolVar(&o.CompressMore, "compress-more", false, "gltfpack -cc: higher compression ratio")
	fs.Float64Var(&o.Simplify, "simplify", 0, "gltfpack -si: target triangle ratio")
	fs.BoolVar(&o.TextureCompress, "texture-compress", false, "gltfpack -tc: KTX2 textures")
	fs.BoolVar(&o.KeepExtras, "keep-extras", false, "gltfpack -ke: keep extras")
	fs.BoolVar(&o.NoQuantization, "no-quantization", false, "gltfpack -noq: disable quantization")
}

// NewOptimizeCmds creates optimizeB3dm and optimizeI3dm
func NewOptimizeCmds(o *opts.RootOpts) []*cobra.Command {
	type variant struct {
		use, kind string
		build     func(input, output string, force bool, optimizer external.GlbOptimizer) *operation.ContentConversion
	}
	variants := []variant{
		{use: "optimizeB3dm", kind: "b3dm", build: operation.NewOptimizeB3dm},
		{use: "optimizeI3dm", kind: "i3dm", build: operation.NewOptimizeI3dm},
	}

	cmds := make([]*cobra.Command, 0, len(variants))
	for _, v := range variants {
		var (
			flags   opts.IOFlags
			options external.GltfpackOptions
		)
		cmd := &cobra.Command{
			Use:   v.use,
			Short: "Optimize the GLB of a " + v.kind + " file with gltfpack",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := flags.Validate(); err != nil {
					return err
				}
				op := v.build(flags.Input, flags.Output, flags.Force, o.Config.Optimizer(options))
				return o.Run(cmd.Context(), op, log.OperationInfo{Name: v.use, Input: flags.Input, Output: flags.Output}, nil)
			},
		}
		flags.AddFlags(cmd.Flags(), "input "+v.kind+" file", "output "+v.kind+" file")
		gltfpackFlags(cmd.Flags(), &options)
		cmds = append(cmds, cmd)
	}
	return cmds
}
