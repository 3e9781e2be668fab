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

package log

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tilepack/pkg/status"
)

func TestLogger(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name     string
		op       func(t *testing.T, logger *Logger)
		wantLogs []string
	}{
		{
			name: "log_operation",
			op: func(t *testing.T, logger *Logger) {
				ctx := context.Background()
				logger.StartOperation(ctx, OperationInfo{Name: "convert", Input: "city", Output: "city.3tz"})
				logger.LogEntry(ctx, status.EntryInfo{Key: "tileset.json", SourceKey: "tileset.json", Status: status.StatusCopied, ContentType: "GLTF"})
				logger.EndOperation(ctx, status.Summary{Counts: map[status.EntryStatus]int{status.StatusCopied: 1}, Bytes: 12})
			},
			wantLogs: []string{
				"[convert city → city.3tz]",
				"- tileset.json                             GLTF                  copied",
				"• 1 copied (12 bytes)",
			},
		},
		{
			name: "log_operation_without_output",
			op: func(t *testing.T, logger *Logger) {
				logger.StartOperation(context.Background(), OperationInfo{Name: "analyze", Input: "a.b3dm"})
			},
			wantLogs: []string{
				"[analyze a.b3dm]",
			},
		},
		{
			name: "end_without_start",
			op: func(t *testing.T, logger *Logger) {
				logger.EndOperation(context.Background(), status.Summary{})
				logger.Info("still here")
			},
			wantLogs: []string{
				"ℹ️  still here",
			},
		},
		{
			name: "log_stages",
			op: func(t *testing.T, logger *Logger) {
				logger.StageStarted(context.Background(), "gzip", 0, 2, 12)
				logger.LogStage(context.Background(), StageOperation{Name: "upgrade", Index: 1, Total: 2, Entries: 12})
			},
			wantLogs: []string{
				"◆ [1/2] gzip                     12 entries",
				"◆ [2/2] upgrade                  12 entries",
			},
		},
		{
			name: "log_messages",
			op: func(t *testing.T, logger *Logger) {
				logger.Info("info message")
				logger.Warning("warning message")
				logger.Error("error message")
				logger.Success("success message")
			},
			wantLogs: []string{
				"ℹ️  info message",
				"⚠️  warning message",
				"❌ error message",
				"✅ success message",
			},
		},
		{
			name: "log_formatted_messages",
			op: func(t *testing.T, logger *Logger) {
				logger.Infof("info %s", "test")
				logger.Warningf("warning %s", "test")
				logger.Errorf("error %s", "test")
				logger.Successf("success %s", "test")
			},
			wantLogs: []string{
				"ℹ️  info test",
				"⚠️  warning test",
				"❌ error test",
				"✅ success test",
			},
		},
		{
			name: "log_header",
			op: func(t *testing.T, logger *Logger) {
				logger.Header("converting packages")
			},
			wantLogs: []string{
				"tilepack • converting packages",
			},
		},
		{
			name: "log_newline",
			op: func(t *testing.T, logger *Logger) {
				logger.Info("first")
				logger.LogNewline()
				logger.Info("second")
			},
			wantLogs: []string{
				"ℹ️  first",
				"",
				"ℹ️  second",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			zlog := zerolog.New(zerolog.TestWriter{T: t})
			logger := New(buf, &zlog)

			tt.op(t, logger)

			output := strings.TrimSpace(buf.String())
			lines := strings.Split(output, "\n")

			require.Equal(t, len(tt.wantLogs), len(lines), "number of log lines should match")
			for i, want := range tt.wantLogs {
				assert.Equal(t, want, strings.TrimSpace(lines[i]), "log line %d should match", i)
			}
		})
	}
}

func TestLoggerContext(t *testing.T) {
	logger := New(io.Discard, nil)

	ctx := context.Background()
	ctx = NewContext(ctx, logger)

	got := FromContext(ctx)
	assert.Same(t, logger, got, "logger from context should be the same instance")

	fallback := FromContext(context.Background())
	require.NotNil(t, fallback, "FromContext should fall back when logger is missing")
	assert.NotSame(t, logger, fallback)
}
