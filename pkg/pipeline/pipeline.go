package pipeline

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🏭 Pipeline is a validated definition with every stage built
type Pipeline struct {
	Input  string
	Output string
	// DescriptorKey overrides the tileset JSON key derived from Input
	DescriptorKey string
	Stages        []*TilesetStage
}

// 🎛️ TilesetStage applies its content stages to the entries it selects
type TilesetStage struct {
	Name          string
	Types         contenttype.Filter
	Keys          KeyFilter
	ContentStages []*ContentStage
}

// ContentStage is one built transform
type ContentStage struct {
	Name    string
	Types   contenttype.Filter
	accepts []contenttype.Type
	apply   Transform
}

// 🔑 KeyFilter selects keys by doublestar globs. An empty include list admits
// everything; the exclude list always wins.
type KeyFilter struct {
	Included []string
	Excluded []string
}

func newKeyFilter(included, excluded []string) (KeyFilter, error) {
	for _, p := range append(append([]string{}, included...), excluded...) {
		if !doublestar.ValidatePattern(p) {
			return KeyFilter{}, errors.Errorf("invalid key pattern %q", p)
		}
	}
	return KeyFilter{Included: included, Excluded: excluded}, nil
}

// Matches reports whether key passes the filter
func (f KeyFilter) Matches(key string) bool {
	for _, p := range f.Excluded {
		if doublestar.MatchUnvalidated(p, key) {
			return false
		}
	}
	if len(f.Included) == 0 {
		return true
	}
	for _, p := range f.Included {
		if doublestar.MatchUnvalidated(p, key) {
			return true
		}
	}
	return false
}

// 🔧 Build validates a definition and builds every content stage. Unknown
// stage names and options that do not decode fail here, before any entry is
// read.
func Build(ctx context.Context, def *Definition, env Env) (*Pipeline, error) {
	if def.Input == "" {
		return nil, errors.Errorf("%w: input is required", ErrInvalidDefinition)
	}
	if def.Output == "" {
		return nil, errors.Errorf("%w: output is required", ErrInvalidDefinition)
	}

	p := &Pipeline{
		Input:         def.Input,
		Output:        def.Output,
		DescriptorKey: def.TilesetJSONFileName,
	}
	for i, sd := range def.TilesetStages {
		stage, err := buildTilesetStage(sd, env)
		if err != nil {
			return nil, errors.Errorf("tileset stage %d (%s): %w", i, sd.Name, err)
		}
		p.Stages = append(p.Stages, stage)
	}

	zerolog.Ctx(ctx).Debug().Str("input", p.Input).Str("output", p.Output).Int("stages", len(p.Stages)).Msg("pipeline built")
	return p, nil
}

func buildTilesetStage(sd TilesetStageDefinition, env Env) (*TilesetStage, error) {
	types, err := typeFilter(sd.IncludedContentTypes, sd.ExcludedContentTypes)
	if err != nil {
		return nil, err
	}
	keys, err := newKeyFilter(sd.IncludedKeys, sd.ExcludedKeys)
	if err != nil {
		return nil, err
	}
	stage := &TilesetStage{Name: sd.Name, Types: types, Keys: keys}

	contentDefs := sd.ContentStages
	if len(contentDefs) == 0 {
		// a bare stage named after a content stage runs that stage alone
		if !IsRegistered(sd.Name) {
			return nil, errors.Errorf("%w: %q has no content stages and is not a stage name", ErrUnknownStage, sd.Name)
		}
		contentDefs = []ContentStageDefinition{{Name: sd.Name, Options: sd.Options}}
	}

	for j, cd := range contentDefs {
		cs, err := buildContentStage(cd, env)
		if err != nil {
			return nil, errors.Errorf("content stage %d: %w", j, err)
		}
		stage.ContentStages = append(stage.ContentStages, cs)
	}
	return stage, nil
}

func buildContentStage(cd ContentStageDefinition, env Env) (*ContentStage, error) {
	reg, ok := lookup(cd.Name)
	if !ok {
		return nil, errors.Errorf("%w: %q", ErrUnknownStage, cd.Name)
	}
	types, err := typeFilter(cd.IncludedContentTypes, cd.ExcludedContentTypes)
	if err != nil {
		return nil, err
	}
	apply, err := reg.build(env, cd.Options)
	if err != nil {
		return nil, err
	}
	return &ContentStage{Name: cd.Name, Types: types, accepts: reg.accepts, apply: apply}, nil
}

func typeFilter(included, excluded []string) (contenttype.Filter, error) {
	in, err := contenttype.ParseAll(included)
	if err != nil {
		return contenttype.Filter{}, err
	}
	ex, err := contenttype.ParseAll(excluded)
	if err != nil {
		return contenttype.Filter{}, err
	}
	return contenttype.Filter{Included: in, Excluded: ex}, nil
}

// selects reports whether the stage processes an entry
func (s *TilesetStage) selects(key string, t contenttype.Type) bool {
	return s.Types.Matches(t) && s.Keys.Matches(key)
}

// applies reports whether the content stage accepts an entry of type t
func (c *ContentStage) applies(t contenttype.Type) bool {
	if !c.Types.Matches(t) {
		return false
	}
	if len(c.accepts) == 0 {
		return true
	}
	return contenttype.Filter{Included: c.accepts}.Matches(t)
}

// Process threads an entry through the content stages. The type is detected
// again before every stage. processed is false when nothing applied.
func (s *TilesetStage) Process(ctx context.Context, sc StageContext, entry tilesetdata.Entry) (out tilesetdata.Entry, processed bool, err error) {
	if !s.selects(entry.Key, contenttype.Detect(entry.Value)) {
		return entry, false, nil
	}
	for _, cs := range s.ContentStages {
		t := contenttype.Detect(entry.Value)
		if !cs.applies(t) {
			continue
		}
		next, err := cs.apply(ctx, sc, entry)
		if err != nil {
			return entry, false, errors.WithDetails(
				errors.Errorf("%s: %w", cs.Name, err),
				"key", entry.Key, "stage", s.Name, "contentStage", cs.Name,
			)
		}
		entry = next
		processed = true
	}
	return entry, processed, nil
}
