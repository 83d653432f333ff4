// Copyright 2025 Google LLC
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

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
)

func sprintfCompat(format string, v ...interface{}) string {
	if len(v) == 0 {
		return format
	}
	return fmt.Sprintf(format, v...)
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// textHandler renders `time="..." severity=XXX message="..."` lines.
type textHandler struct {
	mu     sync.Mutex
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func newTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &textHandler{w: w, level: level, prefix: prefix}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), severityName(r.Level), h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler       { return h }

// jsonHandler renders `{"timestamp":{"seconds":N,"nanos":N},"severity":"X","message":"..."}`.
type jsonHandler struct {
	mu     sync.Mutex
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func newJSONHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &jsonHandler{w: w, level: level, prefix: prefix}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

type jsonLine struct {
	Timestamp struct {
		Seconds int64 `json:"seconds"`
		Nanos   int32 `json:"nanos"`
	} `json:"timestamp"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	var line jsonLine
	line.Timestamp.Seconds = r.Time.Unix()
	line.Timestamp.Nanos = int32(r.Time.Nanosecond())
	line.Severity = severityName(r.Level)
	line.Message = h.prefix + r.Message

	b, err := json.Marshal(line)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler       { return h }
