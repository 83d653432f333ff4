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
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textInfoString    = `^time="[0-9/: .]{26}" severity=INFO message="www.infoExample.com"`
	textWarningString = `^time="[0-9/: .]{26}" severity=WARNING message="www.warningExample.com"`

	jsonInfoString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"INFO","message":"www.infoExample.com"}`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) { suite.Run(t, new(LoggerTest)) }

func redirectLogsToBuffer(buf *bytes.Buffer, format string, severity string) {
	defaultLoggerFactory.format = format
	setLoggingLevel(severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(buf, programLevel, ""))
}

func (t *LoggerTest) TestTextFormatInfoAndWarning() {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, "text", "info")

	Infof("www.infoExample.com")
	t.Regexp(regexp.MustCompile(textInfoString), buf.String())

	buf.Reset()
	Warnf("www.warningExample.com")
	t.Regexp(regexp.MustCompile(textWarningString), buf.String())
}

func (t *LoggerTest) TestJSONFormat() {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, "json", "info")

	Infof("www.infoExample.com")
	t.Regexp(regexp.MustCompile(jsonInfoString), buf.String())
}

func (t *LoggerTest) TestDebugSuppressedAtInfoSeverity() {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, "text", "info")

	Debugf("should not appear")
	assert.Equal(t.T(), "", buf.String())
}

func (t *LoggerTest) TestTraceAndDebugEmittedAtTraceSeverity() {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, "text", "trace")

	Tracef("trace line")
	assert.Contains(t.T(), buf.String(), "severity=TRACE")

	buf.Reset()
	Debugf("debug line")
	assert.Contains(t.T(), buf.String(), "severity=DEBUG")
}
