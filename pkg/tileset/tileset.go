// Package tileset models the tileset JSON descriptor: the tile tree, its
// content references and bounding volumes. Parts of the schema the tools do
// not interpret are carried through as raw JSON, and properties the model does
// not declare are kept in each object's Unknown map.
package tileset

import (
	"bytes"
	"encoding/json"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/implicit"
)

// ErrInvalidTileset is returned for descriptors that cannot be decoded
var ErrInvalidTileset = errors.Base("invalid tileset")

// 🌍 Tileset is the root of a tileset JSON document
type Tileset struct {
	Asset              Asset                      `json:"asset"`
	Properties         json.RawMessage            `json:"properties,omitempty"`
	Schema             json.RawMessage            `json:"schema,omitempty"`
	SchemaURI          string                     `json:"schemaUri,omitempty"`
	Statistics         json.RawMessage            `json:"statistics,omitempty"`
	Groups             json.RawMessage            `json:"groups,omitempty"`
	Metadata           json.RawMessage            `json:"metadata,omitempty"`
	GeometricError     float64                    `json:"geometricError"`
	Root               *Tile                      `json:"root"`
	ExtensionsUsed     []string                   `json:"extensionsUsed,omitempty"`
	ExtensionsRequired []string                   `json:"extensionsRequired,omitempty"`
	Extensions         map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras             json.RawMessage            `json:"extras,omitempty"`
	Unknown            map[string]json.RawMessage `json:"-"`
}

type Asset struct {
	Version        string                     `json:"version"`
	TilesetVersion string                     `json:"tilesetVersion,omitempty"`
	Extensions     map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras         json.RawMessage            `json:"extras,omitempty"`
	Unknown        map[string]json.RawMessage `json:"-"`
}

// 🧱 Tile is one node of the tile tree
type Tile struct {
	BoundingVolume      BoundingVolume             `json:"boundingVolume"`
	ViewerRequestVolume *BoundingVolume            `json:"viewerRequestVolume,omitempty"`
	GeometricError      float64                    `json:"geometricError"`
	Refine              string                     `json:"refine,omitempty"`
	Transform           []float64                  `json:"transform,omitempty"`
	Content             *Content                   `json:"content,omitempty"`
	Contents            []*Content                 `json:"contents,omitempty"`
	Metadata            json.RawMessage            `json:"metadata,omitempty"`
	ImplicitTiling      *ImplicitTiling            `json:"implicitTiling,omitempty"`
	Children            []*Tile                    `json:"children,omitempty"`
	Extensions          map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras              json.RawMessage            `json:"extras,omitempty"`
	Unknown             map[string]json.RawMessage `json:"-"`
}

// 🔗 Content references tile content by URI. URL is the pre-1.0 spelling.
type Content struct {
	URI            string                     `json:"uri,omitempty"`
	URL            string                     `json:"url,omitempty"`
	BoundingVolume *BoundingVolume            `json:"boundingVolume,omitempty"`
	Group          *int                       `json:"group,omitempty"`
	Metadata       json.RawMessage            `json:"metadata,omitempty"`
	Extensions     map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras         json.RawMessage            `json:"extras,omitempty"`
	Unknown        map[string]json.RawMessage `json:"-"`
}

// Ref is the content reference, whichever spelling carries it
func (c *Content) Ref() string {
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// SetRef replaces the reference, keeping the spelling in use
func (c *Content) SetRef(ref string) {
	if c.URI == "" && c.URL != "" {
		c.URL = ref
		return
	}
	c.URI = ref
}

// 📦 BoundingVolume holds exactly one of box, region or sphere
type BoundingVolume struct {
	Box        []float64                  `json:"box,omitempty"`
	Region     []float64                  `json:"region,omitempty"`
	Sphere     []float64                  `json:"sphere,omitempty"`
	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras     json.RawMessage            `json:"extras,omitempty"`
	Unknown    map[string]json.RawMessage `json:"-"`
}

// 🌲 ImplicitTiling is the implicit tiling object of a tile. MaximumLevel is
// the spelling of the pre-1.1 extension.
type ImplicitTiling struct {
	SubdivisionScheme string                     `json:"subdivisionScheme"`
	SubtreeLevels     uint                       `json:"subtreeLevels"`
	AvailableLevels   uint                       `json:"availableLevels,omitempty"`
	MaximumLevel      *uint                      `json:"maximumLevel,omitempty"`
	Subtrees          Subtrees                   `json:"subtrees"`
	Extensions        map[string]json.RawMessage `json:"extensions,omitempty"`
	Extras            json.RawMessage            `json:"extras,omitempty"`
	Unknown           map[string]json.RawMessage `json:"-"`
}

type Subtrees struct {
	URI     string                     `json:"uri"`
	Unknown map[string]json.RawMessage `json:"-"`
}

// Tiling converts to the configuration the availability decoder works with
func (it *ImplicitTiling) Tiling() (implicit.Tiling, error) {
	t := implicit.Tiling{
		SubdivisionScheme: implicit.SubdivisionScheme(it.SubdivisionScheme),
		SubtreeLevels:     it.SubtreeLevels,
	}
	switch {
	case it.MaximumLevel != nil:
		t.MaximumLevel = *it.MaximumLevel
	case it.AvailableLevels > 0:
		t.MaximumLevel = it.AvailableLevels - 1
	default:
		return t, errors.Errorf("%w: implicit tiling without availableLevels", implicit.ErrImplicitTiling)
	}
	if t.SubtreeLevels == 0 {
		return t, errors.Errorf("%w: subtreeLevels must be positive", implicit.ErrImplicitTiling)
	}
	if _, err := t.BranchingFactor(); err != nil {
		return t, err
	}
	return t, nil
}

// 🔍 Parse decodes a tileset JSON document
func Parse(data []byte) (*Tileset, error) {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	var ts Tileset
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, errors.Errorf("%w: %v", ErrInvalidTileset, err)
	}
	if ts.Root == nil {
		return nil, errors.Errorf("%w: missing root tile", ErrInvalidTileset)
	}
	return &ts, nil
}

// 📝 Marshal encodes a tileset as indented JSON
func Marshal(ts *Tileset) ([]byte, error) {
	out, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return nil, errors.Errorf("encoding tileset: %w", err)
	}
	return out, nil
}
