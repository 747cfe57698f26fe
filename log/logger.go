/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package log provides the category based logger used across the frame tree.
package log

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// fallbackColor colors the category of lines logged without a logrus logger.
var fallbackColor = color.New(color.FgMagenta)

// Logger writes log lines tagged with a category such as "FrameManager:frameAttached".
// Loggers made with With share the output, filter and clock of their parent.
type Logger struct {
	out    *logrus.Logger
	debug  bool
	filter *regexp.Regexp
	fields logrus.Fields
	clock  *lineClock
}

// lineClock measures the time elapsed between two log lines.
type lineClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *lineClock) tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var d time.Duration
	if !c.last.IsZero() {
		d = now.Sub(c.last)
	}
	c.last = now

	return d
}

// NewNullLogger will create a logger where log lines will
// be discarded and not logged anywhere.
func NewNullLogger() *Logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)

	return New(lg, false, nil)
}

// New creates a logger writing to logger. With debug set, lines below
// the level of logger are written anyway. A nil filter keeps every category.
func New(logger *logrus.Logger, debug bool, filter *regexp.Regexp) *Logger {
	return &Logger{
		out:    logger,
		debug:  debug,
		filter: filter,
		clock:  &lineClock{},
	}
}

// NewFromFilter creates a logger writing to logger and keeping only the categories
// matching the filter expression. An empty filter keeps everything.
func NewFromFilter(logger *logrus.Logger, debug bool, filter string) (*Logger, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return nil, fmt.Errorf("compiling log category filter %q: %w", filter, err)
		}
	}
	if debug && logger != nil && logger.GetLevel() < logrus.DebugLevel {
		logger.SetLevel(logrus.DebugLevel)
	}
	return New(logger, debug, re), nil
}

// With returns a logger adding fields to every line it writes.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	child := *l
	child.fields = merged

	return &child
}

func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf logs msg at level under category. A nil logger is a no-op.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...any) {
	if l == nil || !l.enabled(level, category) {
		return
	}
	elapsed := l.clock.tick()

	if l.out == nil {
		fmt.Fprintf(os.Stderr, "%s: %s - %d ms\n",
			fallbackColor.Sprint(category), fmt.Sprintf(msg, args...), elapsed.Milliseconds())
		return
	}
	entry := l.out.WithFields(l.fields).WithFields(logrus.Fields{
		"category": category,
		"elapsed":  fmt.Sprintf("%d ms", elapsed.Milliseconds()),
	})
	if l.out.GetLevel() < level {
		// only reached in debug mode
		entry.Printf(msg, args...)
		return
	}
	entry.Logf(level, msg, args...)
}

func (l *Logger) enabled(level logrus.Level, category string) bool {
	if l.out != nil && l.out.GetLevel() < level && !l.debug {
		return false
	}
	return l.filter == nil || l.filter.MatchString(category)
}

// DebugMode tells if debug lines are written.
func (l *Logger) DebugMode() bool {
	return l.debug || (l.out != nil && l.out.GetLevel() >= logrus.DebugLevel)
}
