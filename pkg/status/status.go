package status

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"gitlab.com/tozd/go/errors"
)

// 📊 EntryStatus is what happened to an entry on its way into the output
type EntryStatus int

const (
	StatusUnknown     EntryStatus = iota
	StatusNew                     // Entry has no counterpart in the input
	StatusCopied                  // Entry was written with the input bytes
	StatusTransformed             // Entry was written with different bytes
	StatusRenamed                 // Entry was written under another key
	StatusFailed                  // Entry could not be written
)

func (s EntryStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusCopied:
		return "copied"
	case StatusTransformed:
		return "transformed"
	case StatusRenamed:
		return "renamed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// 📄 EntryInfo describes one output entry
type EntryInfo struct {
	Key         string      // Output key
	SourceKey   string      // Input key, empty for generated entries
	Status      EntryStatus // What happened to it
	ContentType string      // Detected content type
	Size        int64       // Output size in bytes
	Digest      string      // BLAKE3 digest of the output bytes
	Error       error       // Set for failed entries
}

// 📈 Reporter tracks entries and reports progress
type Reporter interface {
	TrackEntry(ctx context.Context, key string, info EntryInfo)
	GetEntryInfo(ctx context.Context, key string) (EntryInfo, error)
	ListEntries(ctx context.Context) ([]EntryInfo, error)

	StartOperation(ctx context.Context, total int)
	UpdateProgress(ctx context.Context, processed int)
	FinishOperation(ctx context.Context)
}

var _ Reporter = (*Tracker)(nil)

// 🔧 Tracker records the entries an operation writes. A nil *Tracker
// accepts every call and records nothing.
type Tracker struct {
	logger    *zerolog.Logger
	formatter EntryFormatter

	mu      sync.RWMutex
	entries map[string]EntryInfo

	total     int
	processed int
}

// 🏭 New creates a tracker logging to logger
func New(logger *zerolog.Logger) *Tracker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Tracker{
		logger:    logger,
		formatter: NewDefaultEntryFormatter(),
		entries:   make(map[string]EntryInfo),
	}
}

// 🔍 Digest is the hex BLAKE3 digest of content
func Digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Classify derives the status of an output entry from its input counterpart
func Classify(sourceKey, key string, in, out []byte) EntryStatus {
	switch {
	case sourceKey == "":
		return StatusNew
	case sourceKey != key:
		return StatusRenamed
	case bytes.Equal(in, out):
		return StatusCopied
	default:
		return StatusTransformed
	}
}

// 📝 Record tracks an entry written from sourceKey with the input bytes in,
// and counts it as processed
func (t *Tracker) Record(ctx context.Context, sourceKey, key, contentType string, in, out []byte) {
	if t == nil {
		return
	}
	t.TrackEntry(ctx, key, EntryInfo{
		Key:         key,
		SourceKey:   sourceKey,
		Status:      Classify(sourceKey, key, in, out),
		ContentType: contentType,
		Size:        int64(len(out)),
		Digest:      Digest(out),
	})
	t.advance(ctx)
}

// RecordFailure tracks an entry that could not be written
func (t *Tracker) RecordFailure(ctx context.Context, key string, err error) {
	if t == nil {
		return
	}
	t.TrackEntry(ctx, key, EntryInfo{Key: key, SourceKey: key, Status: StatusFailed, Error: err})
	t.advance(ctx)
}

func (t *Tracker) advance(ctx context.Context) {
	t.mu.RLock()
	next := t.processed + 1
	t.mu.RUnlock()
	t.UpdateProgress(ctx, next)
}

func (t *Tracker) TrackEntry(ctx context.Context, key string, info EntryInfo) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = info
	msg := t.formatter.FormatEntryOperation(key, info.Status)
	if info.Error != nil {
		msg = t.formatter.FormatError(info.Error)
	}
	t.logger.Debug().
		Str("key", key).
		Str("status", info.Status.String()).
		Int64("size", info.Size).
		Str("digest", info.Digest).
		Msg(msg)
}

func (t *Tracker) GetEntryInfo(ctx context.Context, key string) (EntryInfo, error) {
	if t == nil {
		return EntryInfo{}, errors.Errorf("entry not tracked: %s", key)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[key]
	if !ok {
		return EntryInfo{}, errors.Errorf("entry not tracked: %s", key)
	}
	return info, nil
}

// ListEntries returns the tracked entries sorted by key
func (t *Tracker) ListEntries(ctx context.Context) ([]EntryInfo, error) {
	if t == nil {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]EntryInfo, 0, len(t.entries))
	for _, info := range t.entries {
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (t *Tracker) StartOperation(ctx context.Context, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = total
	t.processed = 0
	t.logger.Info().Int("total", total).Msg(t.formatter.FormatProgress(0, total))
}

func (t *Tracker) UpdateProgress(ctx context.Context, processed int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed = processed
	t.logger.Debug().
		Int("processed", processed).
		Int("total", t.total).
		Msg(t.formatter.FormatProgress(processed, t.total))
}

func (t *Tracker) FinishOperation(ctx context.Context) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.processed > t.total {
		t.total = t.processed
	}
	t.logger.Info().
		Int("processed", t.processed).
		Int("total", t.total).
		Msg(t.formatter.FormatProgress(t.processed, t.total))
}

// 📋 Summary counts tracked entries by status
type Summary struct {
	Counts map[EntryStatus]int
	Bytes  int64
}

func (t *Tracker) Summary() Summary {
	s := Summary{Counts: map[EntryStatus]int{}}
	if t == nil {
		return s
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, info := range t.entries {
		s.Counts[info.Status]++
		s.Bytes += info.Size
	}
	return s
}

// WriteReport prints one line per tracked entry followed by the summary
func (t *Tracker) WriteReport(ctx context.Context, w io.Writer) error {
	entries, err := t.ListEntries(ctx)
	if err != nil {
		return err
	}
	for _, info := range entries {
		if _, err := io.WriteString(w, FormatEntryLine(info)+"\n"); err != nil {
			return errors.Errorf("writing report: %w", err)
		}
	}
	if _, err := io.WriteString(w, FormatSummary(t.Summary())+"\n"); err != nil {
		return errors.Errorf("writing report: %w", err)
	}
	return nil
}
