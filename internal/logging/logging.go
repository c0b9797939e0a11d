/**
# Copyright (c) NVIDIA CORPORATION.  All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package logging

import (
	"io"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DepthField is the log field carrying the dependency recursion depth
const DepthField = "depth"

// IndentFormatter indents the message of every entry by its depth field and
// delegates the rest of the formatting to the wrapped formatter.
type IndentFormatter struct {
	logrus.Formatter
}

// Format implements logrus.Formatter
func (f *IndentFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if _, ok := entry.Data[DepthField]; !ok {
		return f.Formatter.Format(entry)
	}

	// entries are shared between hooks and formatters, so work on a copy
	e := entry.Dup()
	e.Level = entry.Level
	e.Message = entry.Message
	if depth, ok := entry.Data[DepthField].(int); ok && depth > 0 {
		e.Message = strings.Repeat("  ", depth) + entry.Message
	}
	delete(e.Data, DepthField)
	return f.Formatter.Format(e)
}

// Diagnostics counts the warnings and errors logged during a run
type Diagnostics struct {
	warnings atomic.Int64
	errors   atomic.Int64
}

// Levels implements logrus.Hook
func (d *Diagnostics) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel}
}

// Fire implements logrus.Hook
func (d *Diagnostics) Fire(entry *logrus.Entry) error {
	switch entry.Level {
	case logrus.WarnLevel:
		d.warnings.Add(1)
	case logrus.ErrorLevel:
		d.errors.Add(1)
	}
	return nil
}

// Warnings returns the number of warnings logged so far
func (d *Diagnostics) Warnings() int64 {
	return d.warnings.Load()
}

// Errors returns the number of errors logged so far
func (d *Diagnostics) Errors() int64 {
	return d.errors.Load()
}

// LevelForVerbosity maps the number of -v flags to a log level
func LevelForVerbosity(verbosity int) logrus.Level {
	switch {
	case verbosity <= 0:
		return logrus.InfoLevel
	case verbosity == 1:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// NewLogger returns a logger writing indented text to out with diag attached
func NewLogger(out io.Writer, verbosity int, diag *Diagnostics) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(LevelForVerbosity(verbosity))
	logger.SetFormatter(&IndentFormatter{
		Formatter: &logrus.TextFormatter{
			DisableTimestamp: true,
		},
	})
	if diag != nil {
		logger.AddHook(diag)
	}
	return logger
}
