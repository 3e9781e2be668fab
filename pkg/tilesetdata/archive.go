// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tilesetdata

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// IndexFileName is the last entry of an archive: a table of (md5(key), offset)
// records sorted by hash, used for direct lookups without the central directory.
const IndexFileName = "@3dtilesIndex1@"

const indexRecordLength = md5.Size + 8

// 🗜️ Compression selects how archive entries are stored
type Compression string

const (
	CompressionDeflate Compression = "deflate"
	CompressionStore   Compression = "store"
	CompressionZstd    Compression = "zstd"
)

// ParseCompression accepts the names above, empty meaning deflate
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionDeflate:
		return CompressionDeflate, nil
	case CompressionStore, CompressionZstd:
		return Compression(s), nil
	default:
		return "", errors.Errorf("unknown archive compression %q", s)
	}
}

type indexRecord struct {
	hash   [md5.Size]byte
	offset uint64
}

// hashLess orders hashes as two little-endian uint64 values, high half first
func hashLess(a, b [md5.Size]byte) bool {
	le := binary.LittleEndian
	aHi, bHi := le.Uint64(a[8:]), le.Uint64(b[8:])
	if aHi != bHi {
		return aHi < bHi
	}
	return le.Uint64(a[:8]) < le.Uint64(b[:8])
}

func keyHash(key string) [md5.Size]byte {
	return md5.Sum([]byte(key))
}

// 📦 ArchiveSource reads a zip-based package with a hash index
type ArchiveSource struct {
	lc     lifecycle
	reader *zip.ReadCloser
	files  map[string]*zip.File
	keys   []string
	index  []indexRecord
}

func NewArchiveSource() *ArchiveSource {
	return &ArchiveSource{}
}

// Open reads the central directory and validates the hash index against it
func (s *ArchiveSource) Open(ctx context.Context, location string) error {
	if err := s.lc.check(); err == nil {
		return ErrAlreadyOpen
	}

	r, err := zip.OpenReader(location)
	if err != nil {
		return errors.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	files := make(map[string]*zip.File, len(r.File))
	keys := make([]string, 0, len(r.File))
	var indexFile *zip.File
	for _, f := range r.File {
		if f.Name == IndexFileName {
			indexFile = f
			continue
		}
		if f.FileInfo().IsDir() {
			continue
		}
		files[f.Name] = f
		keys = append(keys, f.Name)
	}

	index, err := readIndex(indexFile, keys)
	if err != nil {
		r.Close()
		return err
	}

	if err := s.lc.begin(); err != nil {
		r.Close()
		return err
	}
	s.reader, s.files, s.keys, s.index = r, files, keys, index
	zerolog.Ctx(ctx).Debug().Str("location", location).Int("entries", len(keys)).Msg("archive opened")
	return nil
}

func readIndex(f *zip.File, keys []string) ([]indexRecord, error) {
	if f == nil {
		return nil, errors.Errorf("%w: missing %s entry", ErrInvalidArchive, IndexFileName)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, errors.Errorf("%w: reading index: %v", ErrInvalidArchive, err)
	}
	if len(data)%indexRecordLength != 0 {
		return nil, errors.Errorf("%w: index of %d bytes is not a multiple of %d", ErrInvalidArchive, len(data), indexRecordLength)
	}

	index := make([]indexRecord, len(data)/indexRecordLength)
	for i := range index {
		rec := data[i*indexRecordLength:]
		copy(index[i].hash[:], rec[:md5.Size])
		index[i].offset = binary.LittleEndian.Uint64(rec[md5.Size:])
		if i > 0 && hashLess(index[i].hash, index[i-1].hash) {
			return nil, errors.Errorf("%w: index is not sorted at record %d", ErrInvalidArchive, i)
		}
	}

	for _, k := range keys {
		if _, ok := findIndex(index, keyHash(k)); !ok {
			return nil, errors.Errorf("%w: index does not list %q", ErrInvalidArchive, k)
		}
	}
	return index, nil
}

func findIndex(index []indexRecord, h [md5.Size]byte) (indexRecord, bool) {
	i := sort.Search(len(index), func(i int) bool { return !hashLess(index[i].hash, h) })
	if i < len(index) && index[i].hash == h {
		return index[i], true
	}
	return indexRecord{}, false
}

func (s *ArchiveSource) Keys(ctx context.Context) iter.Seq2[string, error] {
	if err := s.lc.check(); err != nil {
		return errSeq(err)
	}
	keys := s.keys
	return func(yield func(string, error) bool) {
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

func (s *ArchiveSource) Value(key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	if _, ok := findIndex(s.index, keyHash(key)); !ok {
		return nil, false, nil
	}
	f, ok := s.files[key]
	if !ok {
		return nil, false, errors.Errorf("%w: index lists %q but the archive has no such entry", ErrInvalidArchive, key)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, false, errors.Errorf("reading %s: %w", key, err)
	}
	return data, true, nil
}

func (s *ArchiveSource) ValueContext(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.Value(key)
}

func (s *ArchiveSource) Close() error {
	if err := s.lc.end(); err != nil {
		return err
	}
	err := s.reader.Close()
	s.reader, s.files, s.keys, s.index = nil, nil, nil, nil
	return err
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// 📦 ArchiveTarget writes a zip-based package into a temporary file that is
// moved into place by Close and removed by Abort.
type ArchiveTarget struct {
	lc          lifecycle
	compression Compression
	location    string
	file        *os.File
	counter     *countingWriter
	writer      *zip.Writer
	index       []indexRecord
	seen        map[string]bool
}

func NewArchiveTarget(compression Compression) *ArchiveTarget {
	if compression == "" {
		compression = CompressionDeflate
	}
	return &ArchiveTarget{compression: compression}
}

func (t *ArchiveTarget) Open(ctx context.Context, location string, overwrite bool) error {
	if err := t.lc.check(); err == nil {
		return ErrAlreadyOpen
	}
	if err := guardFile(location, overwrite); err != nil {
		return err
	}
	f, err := createTemp(location)
	if err != nil {
		return err
	}
	if err := t.lc.begin(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}

	t.location = location
	t.file = f
	t.counter = &countingWriter{w: f}
	t.writer = zip.NewWriter(t.counter)
	t.index = nil
	t.seen = map[string]bool{}
	zerolog.Ctx(ctx).Debug().Str("location", location).Str("temp", f.Name()).Str("compression", string(t.compression)).Msg("archive target opened")
	return nil
}

func (t *ArchiveTarget) AddEntry(ctx context.Context, key string, value []byte) error {
	if err := t.lc.check(); err != nil {
		return err
	}
	if key == IndexFileName {
		return errors.Errorf("%w: %s is reserved", ErrInvalidArchive, IndexFileName)
	}
	if t.seen[key] {
		return errors.Errorf("duplicate archive entry %q", key)
	}

	method, compressed, err := t.compress(value)
	if err != nil {
		return errors.Errorf("compressing %s: %w", key, err)
	}
	offset, err := t.writeRaw(key, method, value, compressed)
	if err != nil {
		return err
	}
	t.seen[key] = true
	t.index = append(t.index, indexRecord{hash: keyHash(key), offset: offset})
	return nil
}

func (t *ArchiveTarget) compress(value []byte) (uint16, []byte, error) {
	var buf bytes.Buffer
	switch t.compression {
	case CompressionStore:
		return zip.Store, value, nil
	case CompressionZstd:
		w, err := zstd.ZipCompressor()(&buf)
		if err != nil {
			return 0, nil, err
		}
		if _, err := w.Write(value); err != nil {
			return 0, nil, err
		}
		if err := w.Close(); err != nil {
			return 0, nil, err
		}
		return zstd.ZipMethodWinZip, buf.Bytes(), nil
	default:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return 0, nil, err
		}
		if _, err := w.Write(value); err != nil {
			return 0, nil, err
		}
		if err := w.Close(); err != nil {
			return 0, nil, err
		}
		return zip.Deflate, buf.Bytes(), nil
	}
}

// writeRaw returns the offset of the entry's local file header
func (t *ArchiveTarget) writeRaw(name string, method uint16, value, compressed []byte) (uint64, error) {
	if err := t.writer.Flush(); err != nil {
		return 0, errors.Errorf("flushing archive: %w", err)
	}
	offset := uint64(t.counter.n)

	w, err := t.writer.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             method,
		CRC32:              crc32.ChecksumIEEE(value),
		CompressedSize64:   uint64(len(compressed)),
		UncompressedSize64: uint64(len(value)),
	})
	if err != nil {
		return 0, errors.Errorf("creating archive entry %s: %w", name, err)
	}
	if _, err := w.Write(compressed); err != nil {
		return 0, errors.Errorf("writing archive entry %s: %w", name, err)
	}
	return offset, nil
}

// Close writes the index as the last entry, then the central directory
func (t *ArchiveTarget) Close(ctx context.Context) error {
	if err := t.lc.end(); err != nil {
		return err
	}

	sort.Slice(t.index, func(i, j int) bool { return hashLess(t.index[i].hash, t.index[j].hash) })
	index := make([]byte, 0, len(t.index)*indexRecordLength)
	for _, rec := range t.index {
		index = append(index, rec.hash[:]...)
		index = binary.LittleEndian.AppendUint64(index, rec.offset)
	}

	if _, err := t.writeRaw(IndexFileName, zip.Store, index, index); err != nil {
		t.discard()
		return err
	}
	if err := t.writer.Close(); err != nil {
		t.discard()
		return errors.Errorf("finishing archive: %w", err)
	}
	if err := t.file.Close(); err != nil {
		os.Remove(t.file.Name())
		return errors.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(t.file.Name(), t.location); err != nil {
		os.Remove(t.file.Name())
		return errors.Errorf("moving archive into place: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("location", t.location).Int("entries", len(t.index)).Msg("archive written")
	return nil
}

func (t *ArchiveTarget) Abort(ctx context.Context) error {
	if err := t.lc.end(); err != nil {
		return err
	}
	t.discard()
	return nil
}

func (t *ArchiveTarget) discard() {
	t.file.Close()
	os.Remove(t.file.Name())
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// guardFile fails with ErrAlreadyExists for an existing file unless overwrite is set
func guardFile(location string, overwrite bool) error {
	_, err := os.Stat(location)
	switch {
	case err == nil && !overwrite:
		return errors.Errorf("%w: %s", ErrAlreadyExists, location)
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return errors.Errorf("checking %s: %w", location, err)
	}
}

// createTemp creates a temporary file next to location so the final rename stays on one filesystem
func createTemp(location string) (*os.File, error) {
	dir := filepath.Dir(location)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Errorf("creating directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(location)+".*.tmp")
	if err != nil {
		return nil, errors.Errorf("creating temp file: %w", err)
	}
	return f, nil
}
