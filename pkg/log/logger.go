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
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerHandle names one subsystem of the engine. Every handle logs through its own
// named child of the root logger and can carry its own level.
type LoggerHandle struct {
	id   int
	name string
}

func (h *LoggerHandle) String() string {
	return h.name
}

// Defined loggers: when adding new loggers, ids must be sequential and all must be added to the loggers slice
var (
	Core      = &LoggerHandle{id: 0, name: "core"}
	Config    = &LoggerHandle{id: 1, name: "core.config"}
	Hierarchy = &LoggerHandle{id: 2, name: "core.hierarchy"}
	Slots     = &LoggerHandle{id: 3, name: "core.slots"}
	Calendar  = &LoggerHandle{id: 4, name: "core.quotas.calendar"}
	Quotas    = &LoggerHandle{id: 5, name: "core.quotas"}
	Policy    = &LoggerHandle{id: 6, name: "core.scheduler.policy"}
	Scheduler = &LoggerHandle{id: 7, name: "core.scheduler"}
	FSM       = &LoggerHandle{id: 8, name: "core.scheduler.fsm"}
	Store     = &LoggerHandle{id: 9, name: "core.store"}
	Metrics   = &LoggerHandle{id: 10, name: "core.metrics"}
	REST      = &LoggerHandle{id: 11, name: "core.rest"}
	Trace     = &LoggerHandle{id: 12, name: "core.trace"}
	Locking   = &LoggerHandle{id: 13, name: "core.locking"}
	Test      = &LoggerHandle{id: 14, name: "test"}
)

var loggers = []*LoggerHandle{
	Core, Config, Hierarchy, Slots, Calendar, Quotas, Policy, Scheduler, FSM, Store, Metrics, REST, Trace, Locking, Test,
}

const unsetLevel = zapcore.Level(-128)

var (
	once         sync.Once
	rootLogger   *zap.Logger
	atomicLevel  zap.AtomicLevel
	levelLock    sync.RWMutex
	handleLevels []zapcore.Level
	cacheLock    sync.Mutex
	named        map[int]*zap.Logger
)

// Log returns the logger for the handle, initialising the root logger on first use.
func Log(handle *LoggerHandle) *zap.Logger {
	once.Do(initLogger)
	cacheLock.Lock()
	defer cacheLock.Unlock()
	if logger, ok := named[handle.id]; ok {
		return logger
	}
	logger := rootLogger.Named(handle.name).WithOptions(zap.WrapCore(func(inner zapcore.Core) zapcore.Core {
		return filteredCore{handle: handle, inner: inner}
	}))
	named[handle.id] = logger
	return logger
}

// InitializeLogger replaces the root logger by one built by an embedding process. Handle loggers
// are rebuilt on their next use. The level of the config, when given, becomes the root level.
func InitializeLogger(logger *zap.Logger, config *zap.Config) {
	once.Do(initLogger)
	cacheLock.Lock()
	defer cacheLock.Unlock()
	rootLogger = logger
	if config != nil {
		atomicLevel = config.Level
	}
	named = make(map[int]*zap.Logger)
	rootLogger.Info("Using an already initialized logger")
}

// RootLogger returns the unfiltered root logger.
func RootLogger() *zap.Logger {
	once.Do(initLogger)
	return rootLogger
}

func initLogger() {
	handleLevels = make([]zapcore.Level, len(loggers))
	for i := range handleLevels {
		handleLevels[i] = unsetLevel
	}
	named = make(map[int]*zap.Logger)
	// reuse a global logger set by an embedding process
	if rootLogger = zap.L(); !isNopLogger(rootLogger) {
		atomicLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
		return
	}
	config := createConfig()
	atomicLevel = config.Level
	var err error
	rootLogger, err = config.Build()
	// this should really not happen so just write to stdout and set a Nop logger
	if err != nil {
		fmt.Printf("Logging disabled, logger init failed with error: %v\n", err)
		rootLogger = zap.NewNop()
	}
}

// SetLevel changes the level of the root logger and of every handle without its own level.
func SetLevel(level zapcore.Level) {
	once.Do(initLogger)
	atomicLevel.SetLevel(level)
}

// GetLevel returns the level of the root logger.
func GetLevel() zapcore.Level {
	once.Do(initLogger)
	return atomicLevel.Level()
}

// SetHandleLevel overrides the level for one handle. Messages below the root level are
// still dropped by the root core.
func SetHandleLevel(handle *LoggerHandle, level zapcore.Level) {
	once.Do(initLogger)
	levelLock.Lock()
	defer levelLock.Unlock()
	handleLevels[handle.id] = level
}

// ResetHandleLevels clears all handle specific levels.
func ResetHandleLevels() {
	once.Do(initLogger)
	levelLock.Lock()
	defer levelLock.Unlock()
	for i := range handleLevels {
		handleLevels[i] = unsetLevel
	}
}

// ParseLevel converts a level name from configuration, unknown names return an error.
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func handleLevel(handle *LoggerHandle) zapcore.Level {
	levelLock.RLock()
	defer levelLock.RUnlock()
	return handleLevels[handle.id]
}

func IsDebugEnabled(handle *LoggerHandle) bool {
	return Log(handle).Core().Enabled(zapcore.DebugLevel)
}

// Returns true if the logger is a noop.
// Logger is a noop means the logger has not been initialized yet.
// This usually means a global logger is not set in the given context,
// see more at zap.ReplaceGlobals().
func isNopLogger(logger *zap.Logger) bool {
	return reflect.DeepEqual(zap.NewNop(), logger)
}

// Create a log config to keep full control over
// LogLevel set to INFO, Encodes for console, Writes to stderr,
// Print stack traces for messages at ErrorLevel and above
func createConfig() *zap.Config {
	return &zap.Config{
		Level:             zap.NewAtomicLevelAt(zap.InfoLevel),
		Development:       false,
		DisableStacktrace: false,
		Encoding:          "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			LevelKey:      "level",
			TimeKey:       "time",
			NameKey:       "name",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			LineEnding:    zapcore.DefaultLineEnding,
			// note: https://godoc.org/go.uber.org/zap/zapcore#EncoderConfig
			// only EncodeName is optional all others must be set
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}
