package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/metrics"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🚦 State is where an executor is in a run
type State int

const (
	StateIdle State = iota
	StateSourceOpened
	StateStageRunning
	StateTargetClosed
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSourceOpened:
		return "source-opened"
	case StateStageRunning:
		return "stage-running"
	case StateTargetClosed:
		return "target-closed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// 👀 StageObserver follows a run stage by stage
type StageObserver interface {
	StageStarted(ctx context.Context, name string, index, total, entries int)
}

// 🏃 Executor runs pipelines. Runs are sequential: entries are handled one
// at a time in enumeration order.
type Executor struct {
	// Packages configures the backends of input, output and intermediates
	Packages tilesetdata.Options
	// Metrics may be nil
	Metrics *metrics.Metrics
	// Observer is told about every stage and may be nil
	Observer StageObserver

	state State
	runID string
}

func NewExecutor(packages tilesetdata.Options, m *metrics.Metrics) *Executor {
	return &Executor{Packages: packages, Metrics: m}
}

// State returns the state reached by the last run
func (e *Executor) State() State { return e.state }

// RunID identifies the last run in logs and temp directory names
func (e *Executor) RunID() string { return e.runID }

// ▶️ Execute runs the pipeline from its input to its output. The output is
// finalized only when every stage succeeded and is aborted otherwise;
// intermediate packages are removed in both cases.
func (e *Executor) Execute(ctx context.Context, p *Pipeline, overwrite bool) (err error) {
	e.state = StateIdle
	e.runID = uuid.NewString()

	logger := zerolog.Ctx(ctx).With().Str("run", e.runID).Logger()
	ctx = logger.WithContext(ctx)

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		if err != nil {
			e.state = StateFailed
			logger.Error().Err(err).Msg("pipeline failed")
		}
		e.Metrics.ObserveRun("pipeline", err)
	}()

	src, loc, err := tilesetdata.OpenSource(ctx, p.Input, e.Packages)
	if err != nil {
		return errors.Errorf("opening input: %w", err)
	}
	cleanups = append(cleanups, func() { closeSource(ctx, src) })
	e.state = StateSourceOpened

	descriptorKey := loc.DescriptorKey
	if p.DescriptorKey != "" {
		descriptorKey = p.DescriptorKey
	}

	dst, _, err := tilesetdata.OpenTarget(ctx, p.Output, overwrite, e.Packages)
	if err != nil {
		return errors.Errorf("opening output: %w", err)
	}
	finalized := false
	cleanups = append(cleanups, func() {
		if !finalized {
			if err := dst.Abort(ctx); err != nil {
				logger.Warn().Err(err).Msg("aborting output")
			}
		}
	})

	keys, err := tilesetdata.CollectKeys(ctx, src)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		logger.Debug().Str("descriptor", descriptorKey).Msg("input lists no keys, discovering from the descriptor")
		if keys, err = DiscoverKeys(ctx, src, descriptorKey); err != nil {
			return err
		}
	}

	stages := p.Stages
	if len(stages) == 0 {
		stages = []*TilesetStage{{Name: "copy"}}
	}

	current := tilesetdata.Source(src)
	for i, stage := range stages {
		e.state = StateStageRunning
		last := i == len(stages)-1
		logger.Info().Str("stage", stage.Name).Int("index", i).Int("entries", len(keys)).Msg("running stage")
		if e.Observer != nil {
			e.Observer.StageStarted(ctx, stage.Name, i, len(stages), len(keys))
		}

		if last {
			if descriptorKey, err = e.runStage(ctx, stage, current, dst, keys, descriptorKey); err != nil {
				return err
			}
			break
		}

		dir, err := os.MkdirTemp("", "tilepack-"+e.runID+"-*")
		if err != nil {
			return errors.Errorf("creating intermediate directory: %w", err)
		}
		cleanups = append(cleanups, func() { os.RemoveAll(dir) })

		next, err := e.runIntermediate(ctx, stage, current, dir, keys, descriptorKey)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { closeSource(ctx, next.source) })
		current = next.source
		keys = next.keys
		descriptorKey = next.descriptorKey
	}

	if err := dst.Close(ctx); err != nil {
		return errors.Errorf("closing output: %w", err)
	}
	finalized = true
	e.state = StateTargetClosed

	logger.Info().Str("output", p.Output).Str("descriptor", descriptorKey).Msg("pipeline finished")
	e.state = StateDone
	return nil
}

type intermediate struct {
	source        tilesetdata.Source
	keys          []string
	descriptorKey string
}

// runIntermediate writes a stage into a directory package and reopens it as
// the source of the next stage
func (e *Executor) runIntermediate(ctx context.Context, stage *TilesetStage, src tilesetdata.Source, dir string, keys []string, descriptorKey string) (*intermediate, error) {
	dst := tilesetdata.NewDirectoryTarget()
	if err := dst.Open(ctx, dir, true); err != nil {
		return nil, errors.Errorf("opening intermediate: %w", err)
	}
	descriptorKey, err := e.runStage(ctx, stage, src, dst, keys, descriptorKey)
	if err != nil {
		if abortErr := dst.Abort(ctx); abortErr != nil {
			zerolog.Ctx(ctx).Warn().Err(abortErr).Msg("aborting intermediate")
		}
		return nil, err
	}
	if err := dst.Close(ctx); err != nil {
		return nil, errors.Errorf("closing intermediate: %w", err)
	}

	next := tilesetdata.NewDirectorySource()
	if err := next.Open(ctx, dir); err != nil {
		return nil, errors.Errorf("reopening intermediate: %w", err)
	}
	nextKeys, err := tilesetdata.CollectKeys(ctx, next)
	if err != nil {
		next.Close()
		return nil, err
	}
	return &intermediate{source: next, keys: nextKeys, descriptorKey: descriptorKey}, nil
}

// runStage processes every key into dst and returns the descriptor key after
// renames. Tileset JSON entries are held back until all other entries are
// written, so that renames made by content stages can be applied to them.
func (e *Executor) runStage(ctx context.Context, stage *TilesetStage, src tilesetdata.Source, dst tilesetdata.Target, keys []string, descriptorKey string) (string, error) {
	logger := zerolog.Ctx(ctx).With().Str("stage", stage.Name).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	defer func() { e.Metrics.ObserveStage(stage.Name, time.Since(start)) }()

	sc := StageContext{Source: src}
	renames := map[string]string{}
	var deferred []tilesetdata.Entry

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		value, ok, err := src.ValueContext(ctx, key)
		if err != nil {
			return "", errors.WithDetails(errors.Errorf("reading %s: %w", key, err), "key", key, "stage", stage.Name)
		}
		if !ok {
			logger.Warn().Str("key", key).Msg("entry disappeared, skipping")
			continue
		}
		entry := tilesetdata.Entry{Key: key, Value: value}
		if key == descriptorKey || IsTilesetJSON(value) {
			deferred = append(deferred, entry)
			continue
		}
		if _, err := e.processEntry(ctx, stage, sc, dst, entry, renames); err != nil {
			return "", err
		}
	}

	for _, entry := range deferred {
		value, err := applyRenames(entry.Key, entry.Value, renames)
		if err != nil {
			return "", errors.WithDetails(errors.Errorf("updating references of %s: %w", entry.Key, err), "key", entry.Key, "stage", stage.Name)
		}
		entry.Value = value
		outKey, err := e.processEntry(ctx, stage, sc, dst, entry, renames)
		if err != nil {
			return "", err
		}
		if entry.Key == descriptorKey {
			descriptorKey = outKey
		}
	}
	return descriptorKey, nil
}

func (e *Executor) processEntry(ctx context.Context, stage *TilesetStage, sc StageContext, dst tilesetdata.Target, entry tilesetdata.Entry, renames map[string]string) (string, error) {
	logger := zerolog.Ctx(ctx)
	t := contenttype.Detect(entry.Value)

	out, processed, err := stage.Process(ctx, sc, entry)
	if err != nil {
		e.Metrics.ObserveEntry(stage.Name, t.String(), metrics.ActionFailed, len(entry.Value), 0)
		if locator, ok := sc.Source.(tilesetdata.Locator); ok {
			if location, ok := locator.Locate(entry.Key); ok {
				err = errors.WithDetails(err, "location", location)
			}
		}
		return "", err
	}

	action := metrics.ActionPassed
	if processed {
		action = metrics.ActionProcessed
	}
	e.Metrics.ObserveEntry(stage.Name, t.String(), action, len(entry.Value), len(out.Value))

	if out.Key != entry.Key {
		renames[entry.Key] = out.Key
		logger.Debug().Str("key", entry.Key).Str("renamed", out.Key).Msg("entry renamed")
	}
	logger.Trace().Str("key", out.Key).Str("type", t.String()).Str("action", action).Msg("entry written")

	if err := dst.AddEntry(ctx, out.Key, out.Value); err != nil {
		return "", errors.WithDetails(errors.Errorf("writing %s: %w", out.Key, err), "key", out.Key, "stage", stage.Name)
	}
	return out.Key, nil
}

func closeSource(ctx context.Context, src tilesetdata.Source) {
	if err := src.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("closing source")
	}
}
