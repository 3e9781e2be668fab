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
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/walteh/tilepack/pkg/status"
)

// 🎨 Display configuration
const (
	stageIndent = 2  // spaces to indent stage lines
	nameWidth   = 24 // width for stage names
)

// 🎯 OperationInfo describes a command run for logging
type OperationInfo struct {
	Name   string // Command name
	Input  string // Input location
	Output string // Output location
}

// 📦 StageOperation is one tileset stage of a pipeline run
type StageOperation struct {
	Name    string
	Index   int
	Total   int
	Entries int
}

// 🎯 Logger prints a run to the console and mirrors it to zerolog
type Logger struct {
	zlog      zerolog.Logger
	console   io.Writer
	mu        sync.Mutex
	currentOp *OperationInfo
	entries   []status.EntryInfo
}

// 🏭 New creates a new logger. zlog may be nil.
func New(console io.Writer, zlog *zerolog.Logger) *Logger {
	l := &Logger{console: console, zlog: zerolog.Nop()}
	if zlog != nil {
		l.zlog = *zlog
	}
	return l
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the logger from context, falling back to a stderr
// logger that shares the context's zerolog logger
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return New(os.Stderr, zerolog.Ctx(ctx))
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// 📝 formatStage formats a stage for display
func (l *Logger) formatStage(op StageOperation) string {
	return fmt.Sprintf("%*s%s %s %s %s",
		stageIndent, "",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Faint).Sprintf("[%d/%d]", op.Index+1, op.Total),
		color.New(color.Bold).Sprintf("%-*s", nameWidth, op.Name),
		color.New(color.FgYellow).Sprintf("%d entries", op.Entries))
}

// 📝 StartOperation prints the header of a command run
func (l *Logger) StartOperation(ctx context.Context, op OperationInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentOp = &op
	l.entries = nil

	target := op.Input
	if op.Output != "" {
		target += " → " + op.Output
	}
	fmt.Fprintf(l.console, "[%s %s]\n",
		color.New(color.FgCyan).Sprint(op.Name),
		target)

	l.zlog.Info().
		Str("operation", op.Name).
		Str("input", op.Input).
		Str("output", op.Output).
		Msg("starting operation")
}

// 📝 StageStarted prints a pipeline stage as it begins
func (l *Logger) StageStarted(ctx context.Context, name string, index, total, entries int) {
	l.LogStage(ctx, StageOperation{Name: name, Index: index, Total: total, Entries: entries})
}

// 📝 LogStage prints a pipeline stage
func (l *Logger) LogStage(ctx context.Context, op StageOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.console, l.formatStage(op))
	l.zlog.Info().
		Str("stage", op.Name).
		Int("index", op.Index).
		Int("total", op.Total).
		Int("entries", op.Entries).
		Msg("stage started")
}

// 📝 LogEntry prints a tracked entry
func (l *Logger) LogEntry(ctx context.Context, info status.EntryInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, info)
	fmt.Fprintln(l.console, status.FormatEntryLine(info))

	ev := l.zlog.Debug()
	if info.Status == status.StatusFailed {
		ev = l.zlog.Warn().Err(info.Error)
	}
	ev.Str("key", info.Key).
		Str("source", info.SourceKey).
		Str("status", info.Status.String()).
		Str("type", info.ContentType).
		Int64("size", info.Size).
		Msg("entry")
}

// 📝 EndOperation prints the summary of the current run
func (l *Logger) EndOperation(ctx context.Context, summary status.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentOp == nil {
		return
	}

	fmt.Fprintf(l.console, "%s %s\n",
		color.New(color.Faint).Sprint("•"),
		status.FormatSummary(summary))

	l.zlog.Info().
		Str("operation", l.currentOp.Name).
		Int("entries", len(l.entries)).
		Int64("bytes", summary.Bytes).
		Msg("operation complete")

	l.currentOp = nil
	l.entries = nil
}

// 📝 LogNewline logs a newline
func (l *Logger) LogNewline() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.console)
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := color.New(color.Bold, color.FgCyan).Sprint("tilepack")
	fmt.Fprintf(l.console, "\n%s %s\n\n", name, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
