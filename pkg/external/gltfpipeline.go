package external

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/resource"
)

// DefaultGltfPipelinePath is looked up in PATH
const DefaultGltfPipelinePath = "gltf-pipeline"

// ErrUpgradeUnavailable is returned by the passthrough upgrader for glTF 1.0 input
var ErrUpgradeUnavailable = errors.Base("glTF 1.0 upgrade needs gltf-pipeline")

// ⚙️ UpgradeOptions are passed to gltf-pipeline
type UpgradeOptions struct {
	KeepUnusedElements   bool `json:"keepUnusedElements,omitempty" yaml:"keepUnusedElements,omitempty"`
	KeepLegacyExtensions bool `json:"keepLegacyExtensions,omitempty" yaml:"keepLegacyExtensions,omitempty"`
	Stats                bool `json:"stats,omitempty" yaml:"stats,omitempty"`
	// Resources resolves the external buffers and images of the GLB
	Resources resource.Resolver `json:"-" yaml:"-"`
}

func (o UpgradeOptions) args() []string {
	var args []string
	if o.KeepUnusedElements {
		args = append(args, "--keepUnusedElements")
	}
	if o.KeepLegacyExtensions {
		args = append(args, "--keepLegacyExtensions")
	}
	if o.Stats {
		args = append(args, "--stats")
	}
	return args
}

// 🔧 GltfPipeline upgrades GLBs with the gltf-pipeline executable
type GltfPipeline struct {
	Path string
}

func NewGltfPipeline(path string) *GltfPipeline {
	if path == "" {
		path = DefaultGltfPipelinePath
	}
	return &GltfPipeline{Path: path}
}

func (g *GltfPipeline) Upgrade(ctx context.Context, data []byte, opts UpgradeOptions) ([]byte, error) {
	inv, err := newInvocation(g.Path, data)
	if err != nil {
		return nil, err
	}
	defer inv.cleanup()

	if err := stageResources(ctx, inv.dir, data, opts.Resources); err != nil {
		return nil, err
	}
	args := append([]string{"-i", inv.input, "-o", inv.output}, opts.args()...)
	return inv.run(ctx, args)
}

// stageResources places the GLB's external files next to the temp input so
// the tool finds them by their relative URIs
func stageResources(ctx context.Context, dir string, data []byte, resources resource.Resolver) error {
	if resources == nil {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	uris, err := glb.ExternalURIs(data)
	if err != nil {
		return err
	}
	for _, uri := range uris {
		rel := filepath.FromSlash(uri)
		if !filepath.IsLocal(rel) {
			logger.Warn().Str("uri", uri).Msg("skipping resource outside the glb directory")
			continue
		}
		content, ok, err := resources.Resolve(ctx, uri)
		if err != nil {
			return errors.Errorf("resolving %s: %w", uri, err)
		}
		if !ok {
			logger.Warn().Str("uri", uri).Msg("resource not found")
			continue
		}
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return errors.Errorf("creating resource directory: %w", err)
		}
		if err := os.WriteFile(p, content, 0644); err != nil {
			return errors.Errorf("writing resource %s: %w", uri, err)
		}
	}
	return nil
}

// 🪞 Passthrough is the upgrader used when gltf-pipeline is not configured:
// glTF 2.0 input is returned unchanged and glTF 1.0 input is an error.
type Passthrough struct{}

func (Passthrough) Upgrade(ctx context.Context, data []byte, opts UpgradeOptions) ([]byte, error) {
	version, err := glb.Version(data)
	if err != nil {
		return nil, err
	}
	switch version {
	case 2:
		return data, nil
	case 1:
		return nil, ErrUpgradeUnavailable
	default:
		return nil, errors.Errorf("%w: unsupported version %d", glb.ErrInvalidGlb, version)
	}
}
