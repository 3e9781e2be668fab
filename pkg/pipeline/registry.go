package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/resource"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

var (
	// ErrUnknownStage is returned when a definition names an unregistered stage
	ErrUnknownStage = errors.Base("unknown stage")
	// ErrInvalidOptions is returned for stage options that do not decode
	ErrInvalidOptions = errors.Base("invalid stage options")
)

// 🔄 Transform maps one entry to its replacement. Returning a different key
// renames the entry; the executor rewrites references to it in tileset JSON.
type Transform func(ctx context.Context, sc StageContext, entry tilesetdata.Entry) (tilesetdata.Entry, error)

// 🧩 StageContext is what a transform can see besides the entry itself
type StageContext struct {
	// Source is the package the entry was read from
	Source tilesetdata.Source
}

// Resolver resolves URIs relative to key inside the source package
func (sc StageContext) Resolver(key string) resource.Resolver {
	if sc.Source == nil {
		return nil
	}
	return resource.NewSourceResolver(sc.Source, key)
}

// 🔌 Env carries the collaborators stages are built with
type Env struct {
	// GltfpackPath locates the gltfpack executable
	GltfpackPath string
	// GltfpackOptions are the defaults stage options are merged over
	GltfpackOptions external.GltfpackOptions
	// NewOptimizer overrides how optimizers are created
	NewOptimizer func(opts external.GltfpackOptions) external.GlbOptimizer
	// Upgrader converts GLBs to glTF 2.0; nil means external.Passthrough
	Upgrader external.GlbUpgrader
}

func (e Env) optimizer(opts external.GltfpackOptions) external.GlbOptimizer {
	if e.NewOptimizer != nil {
		return e.NewOptimizer(opts)
	}
	return external.NewGltfpack(e.GltfpackPath, opts)
}

func (e Env) upgrader() external.GlbUpgrader {
	if e.Upgrader != nil {
		return e.Upgrader
	}
	return external.Passthrough{}
}

// factory decodes raw options and builds the transform
type factory func(env Env, raw json.RawMessage) (Transform, error)

type registration struct {
	accepts []contenttype.Type
	build   factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// 📝 Register adds a content stage. Options decode into O with unknown
// fields rejected; a missing options object yields the zero O. The transform
// only sees entries whose detected type is in accepts (all types when empty).
// Registering a name twice panics.
func Register[O any](name string, accepts []contenttype.Type, build func(env Env, opts O) (Transform, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[name]; ok {
		panic("pipeline: stage " + name + " registered twice")
	}
	registry[name] = registration{
		accepts: accepts,
		build: func(env Env, raw json.RawMessage) (Transform, error) {
			var opts O
			if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&opts); err != nil {
					return nil, errors.Errorf("%w: %s: %v", ErrInvalidOptions, name, err)
				}
			}
			return build(env, opts)
		},
	}
}

func lookup(name string) (registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r, ok
}

// IsRegistered reports whether a content stage exists under name
func IsRegistered(name string) bool {
	_, ok := lookup(name)
	return ok
}

// StageNames lists the registered content stages in order
func StageNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
