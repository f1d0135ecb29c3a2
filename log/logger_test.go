/*
 *
 * bidibridge - a WebDriver BiDi to Chrome DevTools Protocol bridge
 * Copyright (C) 2024 The bidibridge Authors
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

package log

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordingLogger(level logrus.Level) (*Logger, *logrustest.Hook) {
	ll := logrus.New()
	ll.SetOutput(io.Discard)
	ll.SetLevel(level)
	hook := logrustest.NewLocal(ll)
	return New(ll, false, nil), hook
}

func TestLoggerCategories(t *testing.T) {
	t.Parallel()

	l, hook := newRecordingLogger(logrus.DebugLevel)
	l.Debugf("Bridge:NewBridge", "wsURL:%q", "ws://x")

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Bridge:NewBridge", entries[0].Data["category"])
	assert.Equal(t, `wsURL:"ws://x"`, entries[0].Message)
	assert.Contains(t, entries[0].Data, "goroutine")
	assert.Contains(t, entries[0].Data, "elapsed")
}

func TestLoggerLevelGate(t *testing.T) {
	t.Parallel()

	l, hook := newRecordingLogger(logrus.InfoLevel)
	l.Debugf("Bridge:debug", "dropped")
	l.Warnf("Bridge:warn", "kept")

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestLoggerDebugOverride(t *testing.T) {
	t.Parallel()

	ll := logrus.New()
	ll.SetOutput(io.Discard)
	ll.SetLevel(logrus.DebugLevel)
	hook := logrustest.NewLocal(ll)

	// The override bypasses the level gate, the entry level still applies
	// on the logrus side, so the logger must be at debug for the hook to
	// see the entry.
	l := New(ll, true, nil)
	l.Debugf("Session:Execute", "method:%s", "Page.enable")
	require.Len(t, hook.AllEntries(), 1)
}

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	l, hook := newRecordingLogger(logrus.DebugLevel)
	require.NoError(t, l.SetCategoryFilter("TargetController.*"))

	l.Debugf("Connection:recvLoop", "dropped")
	l.Debugf("TargetController:Unblock", "kept")

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "TargetController:Unblock", entries[0].Data["category"])

	// An empty filter leaves the current filter untouched.
	require.NoError(t, l.SetCategoryFilter(""))
	l.Debugf("Connection:recvLoop", "still dropped")
	assert.Len(t, hook.AllEntries(), 1)

	require.Error(t, l.SetCategoryFilter("("))
}

func TestLoggerSetLevel(t *testing.T) {
	t.Parallel()

	l := NewNullLogger()
	require.NoError(t, l.SetLevel("debug"))
	assert.True(t, l.DebugMode())

	require.NoError(t, l.SetLevel("warning"))
	assert.False(t, l.DebugMode())

	require.Error(t, l.SetLevel("chatty"))
}

func TestNullLoggerDiscards(t *testing.T) {
	t.Parallel()

	// Must not panic; output goes nowhere.
	l := NewNullLogger()
	l.Infof("Test:category", "value:%d", 42)

	var nilLogger *Logger
	nilLogger.Debugf("Test:category", "nil receiver is safe")
}
