// Package pipeline runs staged transformations over a tileset package. A
// pipeline reads an input package, threads it through a list of tileset
// stages (each made of content stages applied per entry) and writes the
// result to an output package.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned for pipeline files that cannot be decoded
var ErrInvalidDefinition = errors.Base("invalid pipeline definition")

// 📜 Definition is the file form of a pipeline
type Definition struct {
	Input               string                   `json:"input"`
	Output              string                   `json:"output"`
	TilesetJSONFileName string                   `json:"tilesetJsonFileName,omitempty"`
	TilesetStages       []TilesetStageDefinition `json:"tilesetStages"`
}

// TilesetStageDefinition selects entries and lists the content stages applied to them
type TilesetStageDefinition struct {
	Name                 string                   `json:"name"`
	Description          string                   `json:"description,omitempty"`
	IncludedContentTypes []string                 `json:"includedContentTypes,omitempty"`
	ExcludedContentTypes []string                 `json:"excludedContentTypes,omitempty"`
	IncludedKeys         []string                 `json:"includedKeys,omitempty"`
	ExcludedKeys         []string                 `json:"excludedKeys,omitempty"`
	Options              json.RawMessage          `json:"options,omitempty"`
	ContentStages        []ContentStageDefinition `json:"contentStages,omitempty"`
}

// ContentStageDefinition names a registered stage and its options
type ContentStageDefinition struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	IncludedContentTypes []string        `json:"includedContentTypes,omitempty"`
	ExcludedContentTypes []string        `json:"excludedContentTypes,omitempty"`
	Options              json.RawMessage `json:"options,omitempty"`
}

// ParseDefinition decodes a pipeline file. YAML is chosen by a .yaml/.yml
// filename; anything else is JSON, where comments and trailing commas are
// allowed. Unknown fields are rejected in both.
func ParseDefinition(data []byte, filename string) (*Definition, error) {
	var (
		doc []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		doc, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	default:
		doc = jsonc.ToJSON(data)
	}

	var def Definition
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// strict decoder
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Errorf("%w: parsing YAML: %v", ErrInvalidDefinition, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Errorf("%w: converting YAML: %v", ErrInvalidDefinition, err)
	}
	return out, nil
}

// 📂 LoadDefinition reads and parses a pipeline file
func LoadDefinition(ctx context.Context, path string) (*Definition, error) {
	zerolog.Ctx(ctx).Debug().Str("path", path).Msg("loading pipeline definition")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading pipeline file: %w", err)
	}
	def, err := ParseDefinition(data, path)
	if err != nil {
		return nil, errors.Errorf("parsing %s: %w", path, err)
	}
	return def, nil
}
