package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/implicit"
	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// Stage names
const (
	StageIdentity         = "identity"
	StageGzip             = "gzip"
	StageUngzip           = "ungzip"
	StageB3dmToGlb        = "b3dmToGlb"
	StageI3dmToGlb        = "i3dmToGlb"
	StageGlbToB3dm        = "glbToB3dm"
	StageGlbToI3dm        = "glbToI3dm"
	StageOptimizeGlb      = "optimizeGlb"
	StageOptimizeB3dm     = "optimizeB3dm"
	StageOptimizeI3dm     = "optimizeI3dm"
	StageUpgradeGlb       = "upgradeGlb"
	StageValidateSubtrees = "validateSubtrees"
)

// NoOptions is the options type of stages that take none
type NoOptions struct{}

// GzipOptions configures the gzip stage
type GzipOptions struct {
	// Level is a compress/flate level; 0 is the default level
	Level int `json:"level,omitempty"`
}

// ValidateSubtreesOptions is the implicit tiling the subtrees are checked against
type ValidateSubtreesOptions struct {
	SubdivisionScheme string `json:"subdivisionScheme"`
	SubtreeLevels     uint   `json:"subtreeLevels"`
	AvailableLevels   uint   `json:"availableLevels"`
}

var glbOnly = []contenttype.Type{contenttype.GLB}

func init() {
	Register(StageIdentity, nil, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			return e, nil
		}, nil
	})

	Register(StageGzip, nil, func(env Env, opts GzipOptions) (Transform, error) {
		if _, err := convert.Gzip(nil, opts.Level); err != nil {
			return nil, errors.Errorf("%w: gzip level %d", ErrInvalidOptions, opts.Level)
		}
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			if contenttype.IsGzipped(e.Value) {
				return e, nil
			}
			out, err := convert.Gzip(e.Value, opts.Level)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageUngzip, nil, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.Ungzip(e.Value)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageB3dmToGlb, []contenttype.Type{contenttype.B3DM}, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.B3dmToGlb(e.Value)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: convert.ReplaceExtension(e.Key, ".b3dm", ".glb"), Value: out}, nil
		}, nil
	})

	Register(StageI3dmToGlb, []contenttype.Type{contenttype.I3DM}, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.I3dmToGlb(e.Value)
			if errors.Is(err, convert.ErrNoEmbeddedGlb) {
				zerolog.Ctx(ctx).Debug().Str("key", e.Key).Msg("keeping i3dm with external glb")
				return e, nil
			}
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: convert.ReplaceExtension(e.Key, ".i3dm", ".glb"), Value: out}, nil
		}, nil
	})

	Register(StageGlbToB3dm, glbOnly, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.GlbToB3dm(e.Value)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: convert.ReplaceExtension(e.Key, ".glb", ".b3dm"), Value: out}, nil
		}, nil
	})

	Register(StageGlbToI3dm, glbOnly, func(env Env, _ NoOptions) (Transform, error) {
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.GlbToI3dm(e.Value)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: convert.ReplaceExtension(e.Key, ".glb", ".i3dm"), Value: out}, nil
		}, nil
	})

	Register(StageOptimizeGlb, glbOnly, func(env Env, opts external.GltfpackOptions) (Transform, error) {
		optimizer := env.optimizer(gltfpackOptions(env, opts))
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := optimizer.Optimize(ctx, e.Value)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageOptimizeB3dm, []contenttype.Type{contenttype.B3DM}, func(env Env, opts external.GltfpackOptions) (Transform, error) {
		optimizer := env.optimizer(gltfpackOptions(env, opts))
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.OptimizeB3dm(ctx, e.Value, optimizer)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageOptimizeI3dm, []contenttype.Type{contenttype.I3DM}, func(env Env, opts external.GltfpackOptions) (Transform, error) {
		optimizer := env.optimizer(gltfpackOptions(env, opts))
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			out, err := convert.OptimizeI3dm(ctx, e.Value, optimizer)
			if errors.Is(err, convert.ErrNoEmbeddedGlb) {
				zerolog.Ctx(ctx).Debug().Str("key", e.Key).Msg("keeping i3dm with external glb")
				return e, nil
			}
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageUpgradeGlb, glbOnly, func(env Env, opts external.UpgradeOptions) (Transform, error) {
		upgrader := env.upgrader()
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			run := opts
			run.Resources = sc.Resolver(e.Key)
			out, err := upgrader.Upgrade(ctx, e.Value, run)
			if err != nil {
				return e, err
			}
			return tilesetdata.Entry{Key: e.Key, Value: out}, nil
		}, nil
	})

	Register(StageValidateSubtrees, nil, func(env Env, opts ValidateSubtreesOptions) (Transform, error) {
		it := tileset.ImplicitTiling{
			SubdivisionScheme: opts.SubdivisionScheme,
			SubtreeLevels:     opts.SubtreeLevels,
			AvailableLevels:   opts.AvailableLevels,
		}
		tiling, err := it.Tiling()
		if err != nil {
			return nil, errors.Errorf("%w: %s: %v", ErrInvalidOptions, StageValidateSubtrees, err)
		}
		return func(ctx context.Context, sc StageContext, e tilesetdata.Entry) (tilesetdata.Entry, error) {
			if !implicit.IsSubtree(e.Value) && !strings.HasSuffix(strings.ToLower(e.Key), ".subtree") {
				return e, nil
			}
			return e, validateSubtree(ctx, sc, e, tiling)
		}, nil
	})
}

// gltfpackOptions uses the stage's own options when it has any, else the defaults
func gltfpackOptions(env Env, opts external.GltfpackOptions) external.GltfpackOptions {
	if opts == (external.GltfpackOptions{}) {
		return env.GltfpackOptions
	}
	return opts
}

func validateSubtree(ctx context.Context, sc StageContext, e tilesetdata.Entry, tiling implicit.Tiling) error {
	resolver := sc.Resolver(e.Key)
	st, err := implicit.ParseSubtree(e.Value, func(uri string) ([]byte, error) {
		if resolver == nil {
			return nil, errors.Errorf("no resolver for buffer %s", uri)
		}
		data, ok, err := resolver.Resolve(ctx, uri)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Errorf("buffer %s not found", uri)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	av, err := st.Availability(tiling)
	if err != nil {
		return err
	}

	contents := make([]int, len(av.Content))
	for i, c := range av.Content {
		contents[i] = implicit.CountAvailable(c)
	}
	zerolog.Ctx(ctx).Debug().
		Str("key", e.Key).
		Int("tiles", implicit.CountAvailable(av.Tile)).
		Ints("contents", contents).
		Int("child_subtrees", implicit.CountAvailable(av.ChildSubtree)).
		Msg("subtree is valid")
	return nil
}
