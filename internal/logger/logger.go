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

// Package logger provides the structured logger used across dibs: five
// severities (TRACE, DEBUG, INFO, WARNING, ERROR) rendered as either
// logfmt-ish text or JSON, with optional on-disk rotation.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity level constants, ordered from most to least verbose.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{format: "text", prefix: ""}
	defaultLogger        = slog.New(defaultLoggerFactory.createJSONOrTextHandler(os.Stderr, programLevel, ""))
)

type loggerFactory struct {
	format string
	prefix string
}

func (f *loggerFactory) createJSONOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "json" {
		return newJSONHandler(w, level, prefix)
	}
	return newTextHandler(w, level, prefix)
}

// Init configures the default logger for the lifetime of the process: the
// rendering format ("json" or "text"), the minimum severity to emit, and an
// optional log file path (rotated via lumberjack once it grows past 10 MiB,
// keeping 5 backups).
func Init(format string, severity string, logFile string) error {
	defaultLoggerFactory.format = format
	setLoggingLevel(severity, programLevel)

	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MiB
			MaxBackups: 5,
			Compress:   true,
		}
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(w, programLevel, ""))
	return nil
}

func setLoggingLevel(severity string, level *slog.LevelVar) {
	switch severity {
	case "trace":
		level.Set(LevelTrace)
	case "debug":
		level.Set(LevelDebug)
	case "info":
		level.Set(LevelInfo)
	case "warning":
		level.Set(LevelWarn)
	case "error":
		level.Set(LevelError)
	default:
		level.Set(LevelInfo)
	}
}

func Tracef(format string, v ...interface{}) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

func logf(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, sprintfCompat(format, v...))
}
