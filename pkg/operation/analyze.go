package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/implicit"
	"github.com/walteh/tilepack/pkg/tileformat"
)

// 🔬 Analyze splits a tile content file into inspectable parts, written to
// OutputDir with the input's base name as prefix:
//
//	<name>.layout.json        segment offsets and lengths
//	<name>.featureTable.json  feature table JSON
//	<name>.batchTable.json    batch table JSON
//	<name>.glb                payload
//	<name>.glb.json           glTF JSON of the payload
//	<name>.subtree.json       availability summary of a subtree file
//
// Inner tiles of a composite are analyzed as <name>.inner[i]. Empty parts are
// not written, and parts that exist without Force are skipped with an error log.
type Analyze struct {
	Input     string
	OutputDir string
	Force     bool
	// Tiling lets subtree summaries count available elements
	Tiling *implicit.Tiling
}

func (a *Analyze) Name() string { return "analyze" }

func (a *Analyze) Execute(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("input", a.Input).Str("output", a.OutputDir).Msg("analyzing")

	data, err := readInputFile(a.Input)
	if err != nil {
		return err
	}
	if err := a.analyze(ctx, filepath.Base(a.Input), data); err != nil {
		return errors.WithDetails(err, "input", a.Input)
	}
	logger.Info().Str("input", a.Input).Msg("analyzing done")
	return nil
}

func (a *Analyze) analyze(ctx context.Context, baseName string, data []byte) error {
	base := filepath.Join(a.OutputDir, baseName)

	switch t := contenttype.Detect(data); t {
	case contenttype.B3DM, contenttype.I3DM, contenttype.PNTS:
		td, err := tileformat.ReadTileData(data)
		if err != nil {
			return err
		}
		if err := a.writeJSON(ctx, base+".layout.json", tileformat.ComputeLayout(td.Header)); err != nil {
			return err
		}
		if err := a.writeBytes(ctx, base+".glb", td.Payload); err != nil {
			return err
		}
		if err := a.writeJSON(ctx, base+".featureTable.json", td.FeatureTable.JSON); err != nil {
			return err
		}
		if err := a.writeJSON(ctx, base+".batchTable.json", td.BatchTable.JSON); err != nil {
			return err
		}
		if contenttype.Detect(td.Payload) != contenttype.GLB {
			return nil
		}
		return a.writeGlbJSON(ctx, base, td.Payload)

	case contenttype.CMPT:
		cmpt, err := tileformat.ReadCompositeTileData(data)
		if err != nil {
			return err
		}
		for i, inner := range cmpt.InnerTiles {
			if err := a.analyze(ctx, fmt.Sprintf("%s.inner[%d]", baseName, i), inner); err != nil {
				return err
			}
		}
		return nil

	case contenttype.GLB:
		return a.writeGlbJSON(ctx, base, data)

	default:
		if implicit.IsSubtree(data) {
			return a.writeSubtree(ctx, base, data)
		}
		zerolog.Ctx(ctx).Warn().Str("name", baseName).Str("type", t.String()).Msg("nothing to analyze")
		return nil
	}
}

func (a *Analyze) writeGlbJSON(ctx context.Context, base string, data []byte) error {
	doc, err := glb.ExtractJSON(data)
	if err != nil {
		return err
	}
	return a.writeJSON(ctx, base+".glb.json", doc)
}

// subtreeSummary is what analyze reports for a subtree file
type subtreeSummary struct {
	Subtree             implicit.SubtreeJSON `json:"subtree"`
	BufferViewLengths   []int                `json:"bufferViewLengths,omitempty"`
	AvailableTiles      *int                 `json:"availableTiles,omitempty"`
	AvailableContents   []int                `json:"availableContents,omitempty"`
	AvailableSubtrees   *int                 `json:"availableChildSubtrees,omitempty"`
	ExternalBufferCount int                  `json:"externalBufferCount,omitempty"`
}

func (a *Analyze) writeSubtree(ctx context.Context, base string, data []byte) error {
	external := 0
	st, err := implicit.ParseSubtree(data, func(uri string) ([]byte, error) {
		external++
		return resolveBesideFile(ctx, a.Input, uri)
	})
	if err != nil {
		return err
	}
	summary := subtreeSummary{Subtree: st.JSON, ExternalBufferCount: external}
	for _, bv := range st.BufferViews {
		summary.BufferViewLengths = append(summary.BufferViewLengths, len(bv))
	}
	if a.Tiling != nil {
		av, err := st.Availability(*a.Tiling)
		if err != nil {
			return err
		}
		tiles := implicit.CountAvailable(av.Tile)
		subtrees := implicit.CountAvailable(av.ChildSubtree)
		summary.AvailableTiles = &tiles
		summary.AvailableSubtrees = &subtrees
		for _, c := range av.Content {
			summary.AvailableContents = append(summary.AvailableContents, implicit.CountAvailable(c))
		}
	}
	return a.writeJSON(ctx, base+".subtree.json", summary)
}

func (a *Analyze) writeJSON(ctx context.Context, path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if string(out) == "{}" || string(out) == "null" {
		return nil
	}
	return a.writeBytes(ctx, path, out)
}

func (a *Analyze) writeBytes(ctx context.Context, path string, data []byte) error {
	logger := zerolog.Ctx(ctx)
	if len(data) == 0 {
		return nil
	}
	if err := ensureCanWrite(path, a.Force); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("cannot write")
		return nil
	}
	logger.Info().Str("path", path).Msg("writing")
	return writeFile(path, data)
}
