/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gotest.tools/v3/assert"
)

func TestIsNopLogger(t *testing.T) {
	testLogger, err := zap.NewDevelopment()
	assert.NilError(t, err, "Dev logger init failed")
	assert.Equal(t, false, isNopLogger(testLogger))

	testLogger = zap.NewNop()
	assert.Equal(t, true, isNopLogger(testLogger))
}

func TestHandleIDsSequential(t *testing.T) {
	for i, handle := range loggers {
		assert.Equal(t, i, handle.id, "handle %s out of sequence", handle)
	}
}

func TestHandleLevels(t *testing.T) {
	defer ResetHandleLevels()
	defer SetLevel(zapcore.InfoLevel)

	SetLevel(zapcore.DebugLevel)
	assert.Assert(t, IsDebugEnabled(Slots))
	assert.Assert(t, IsDebugEnabled(Policy))

	SetHandleLevel(Slots, zapcore.WarnLevel)
	assert.Assert(t, !IsDebugEnabled(Slots))
	assert.Assert(t, !Log(Slots).Core().Enabled(zapcore.InfoLevel))
	assert.Assert(t, Log(Slots).Core().Enabled(zapcore.WarnLevel))
	assert.Assert(t, IsDebugEnabled(Policy))

	// root level still applies
	SetLevel(zapcore.ErrorLevel)
	assert.Assert(t, !Log(Slots).Core().Enabled(zapcore.WarnLevel))

	ResetHandleLevels()
	SetLevel(zapcore.DebugLevel)
	assert.Assert(t, IsDebugEnabled(Slots))
}

func TestLoggerCached(t *testing.T) {
	first := Log(Calendar)
	second := Log(Calendar)
	assert.Assert(t, first == second, "named logger should be cached")
	assert.Assert(t, RootLogger() != nil)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	assert.NilError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)
	level, err = ParseLevel("WARN")
	assert.NilError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)
	_, err = ParseLevel("chatty")
	assert.ErrorContains(t, err, "unknown log level")
}
