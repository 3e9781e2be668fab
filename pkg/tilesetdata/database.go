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
	"context"
	"iter"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const databaseSchema = `CREATE TABLE media (key TEXT PRIMARY KEY, content BLOB);`

// errStopIteration ends a ResultFunc early when the consumer stops ranging
var errStopIteration = errors.Base("stop iteration")

// 🗄️ DatabaseSource reads a package stored as rows of a sqlite table
// media(key TEXT, content BLOB).
type DatabaseSource struct {
	lc   lifecycle
	conn *sqlite.Conn
}

func NewDatabaseSource() *DatabaseSource {
	return &DatabaseSource{}
}

// Open validates the media table layout; the connection is closed again when
// the layout does not match.
func (s *DatabaseSource) Open(ctx context.Context, location string) error {
	if err := s.lc.check(); err == nil {
		return ErrAlreadyOpen
	}
	if _, err := os.Stat(location); err != nil {
		return errors.Errorf("checking database: %w", err)
	}

	conn, err := sqlite.OpenConn(location, sqlite.OpenReadOnly)
	if err != nil {
		return errors.Errorf("opening database: %w", err)
	}
	if err := validateSchema(conn); err != nil {
		conn.Close()
		return err
	}
	if err := s.lc.begin(); err != nil {
		conn.Close()
		return err
	}
	s.conn = conn
	zerolog.Ctx(ctx).Debug().Str("location", location).Msg("database opened")
	return nil
}

type column struct {
	name string
	typ  string
}

func validateSchema(conn *sqlite.Conn) error {
	var columns []column
	err := sqlitex.Execute(conn, "PRAGMA table_info(media)", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			columns = append(columns, column{
				name: strings.ToLower(stmt.ColumnText(1)),
				typ:  strings.ToUpper(stmt.ColumnText(2)),
			})
			return nil
		},
	})
	if err != nil {
		return errors.Errorf("%w: reading table info: %v", ErrSchema, err)
	}
	if len(columns) == 0 {
		return errors.Errorf("%w: no media table", ErrSchema)
	}

	want := []column{{name: "key", typ: "TEXT"}, {name: "content", typ: "BLOB"}}
	if len(columns) != len(want) {
		return errors.Errorf("%w: media table has %d columns, expected %d", ErrSchema, len(columns), len(want))
	}
	for i, c := range columns {
		if c != want[i] {
			return errors.Errorf("%w: column %d is %s %s, expected %s %s", ErrSchema, i, c.name, c.typ, want[i].name, want[i].typ)
		}
	}
	return nil
}

// Keys is a full table scan
func (s *DatabaseSource) Keys(ctx context.Context) iter.Seq2[string, error] {
	if err := s.lc.check(); err != nil {
		return errSeq(err)
	}
	conn := s.conn
	return func(yield func(string, error) bool) {
		err := sqlitex.Execute(conn, "SELECT key FROM media", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if !yield(stmt.ColumnText(0), nil) {
					return errStopIteration
				}
				return nil
			},
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield("", errors.Errorf("listing keys: %w", err))
		}
	}
}

func (s *DatabaseSource) Value(key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	var (
		value []byte
		found bool
	)
	err := sqlitex.Execute(s.conn, "SELECT content FROM media WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, errors.Errorf("reading %s: %w", key, err)
	}
	return value, found, nil
}

func (s *DatabaseSource) ValueContext(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.Value(key)
}

func (s *DatabaseSource) Close() error {
	if err := s.lc.end(); err != nil {
		return err
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// 🗄️ DatabaseTarget writes all entries in a single IMMEDIATE transaction into
// a temporary database file. Close commits and moves it into place; Abort
// rolls back and removes it.
type DatabaseTarget struct {
	lc             lifecycle
	location       string
	tempPath       string
	conn           *sqlite.Conn
	endTransaction func(*error)
}

func NewDatabaseTarget() *DatabaseTarget {
	return &DatabaseTarget{}
}

func (t *DatabaseTarget) Open(ctx context.Context, location string, overwrite bool) (err error) {
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
	tempPath := f.Name()
	f.Close()
	defer func() {
		if err != nil {
			removeDatabaseFiles(tempPath)
		}
	}()

	conn, err := sqlite.OpenConn(tempPath, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return errors.Errorf("opening database: %w", err)
	}
	if err := sqlitex.ExecuteScript(conn, databaseSchema, nil); err != nil {
		conn.Close()
		return errors.Errorf("creating schema: %w", err)
	}
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		conn.Close()
		return errors.Errorf("beginning transaction: %w", err)
	}
	if err := t.lc.begin(); err != nil {
		conn.Close()
		return err
	}

	t.location, t.tempPath, t.conn, t.endTransaction = location, tempPath, conn, endTransaction
	zerolog.Ctx(ctx).Debug().Str("location", location).Str("temp", tempPath).Msg("database target opened")
	return nil
}

func (t *DatabaseTarget) AddEntry(ctx context.Context, key string, value []byte) error {
	if err := t.lc.check(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	err := sqlitex.Execute(t.conn, "INSERT INTO media (key, content) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{key, value},
	})
	if err != nil {
		return errors.Errorf("inserting %s: %w", key, err)
	}
	return nil
}

func (t *DatabaseTarget) Close(ctx context.Context) error {
	if err := t.lc.end(); err != nil {
		return err
	}
	var err error
	t.endTransaction(&err)
	if cerr := t.conn.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		removeDatabaseFiles(t.tempPath)
		return errors.Errorf("committing database: %w", err)
	}
	if err := os.Rename(t.tempPath, t.location); err != nil {
		removeDatabaseFiles(t.tempPath)
		return errors.Errorf("moving database into place: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("location", t.location).Msg("database written")
	return nil
}

func (t *DatabaseTarget) Abort(ctx context.Context) error {
	if err := t.lc.end(); err != nil {
		return err
	}
	var aborted error = errors.New("aborted")
	t.endTransaction(&aborted)
	t.conn.Close()
	removeDatabaseFiles(t.tempPath)
	return nil
}

func removeDatabaseFiles(path string) {
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
}
