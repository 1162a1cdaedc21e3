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

package locking

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	godeadlock "github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/log"
)

// Environment variables read once at start up.
const (
	EnvDetection = "KAO_DEADLOCK_DETECTION"
	EnvTimeout   = "KAO_DEADLOCK_TIMEOUT"
	EnvExit      = "KAO_DEADLOCK_EXIT"
	EnvLockOrder = "KAO_DEADLOCK_LOCK_ORDER"
)

const defaultTimeout = time.Minute

// Settings of the deadlock detection. Detection is off unless enabled: the locks then behave
// like the sync package locks.
type Settings struct {
	Enabled   bool
	Timeout   time.Duration
	Exit      bool
	LockOrder bool
}

var (
	current  atomic.Pointer[Settings]
	detected atomic.Bool
	report   = &reportBuffer{}
)

// reportBuffer collects the report written by the detector before the callback runs
type reportBuffer struct {
	sync.Mutex
	sb strings.Builder
}

func (b *reportBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.sb.Write(p)
}

func (b *reportBuffer) flush() string {
	b.Lock()
	defer b.Unlock()
	out := b.sb.String()
	b.sb.Reset()
	return out
}

func init() {
	Configure(SettingsFromEnv())
}

// SettingsFromEnv reads the settings from the environment, unparsable values fall back to the defaults.
func SettingsFromEnv() Settings {
	timeout := defaultTimeout
	if value, ok := os.LookupEnv(EnvTimeout); ok {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			timeout = d
		}
	}
	return Settings{
		Enabled:   common.GetBoolEnvVar(EnvDetection, false),
		Timeout:   timeout,
		Exit:      common.GetBoolEnvVar(EnvExit, false),
		LockOrder: common.GetBoolEnvVar(EnvLockOrder, true),
	}
}

// Configure applies the settings to every lock of the process.
func Configure(settings Settings) {
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}
	current.Store(&settings)
	godeadlock.Opts.Disable = !settings.Enabled
	godeadlock.Opts.DeadlockTimeout = settings.Timeout
	godeadlock.Opts.DisableLockOrderDetection = !settings.LockOrder
	godeadlock.Opts.LogBuf = report
	godeadlock.Opts.OnPotentialDeadlock = onPotentialDeadlock
	if settings.Enabled {
		// written before the logger exists
		_, _ = fmt.Fprintf(os.Stderr, "=== deadlock detection enabled (timeout: %s, exit: %t, lock order: %t) ===\n",
			settings.Timeout, settings.Exit, settings.LockOrder)
	}
}

// Current returns the settings in use.
func Current() Settings {
	return *current.Load()
}

func onPotentialDeadlock() {
	detected.Store(true)
	log.Log(log.Locking).Error("potential deadlock",
		zap.String("report", report.flush()))
	if current.Load().Exit {
		os.Exit(1)
	}
}

// IsDeadlockDetected reports whether a potential deadlock was seen since the last reset.
func IsDeadlockDetected() bool {
	return detected.Load()
}

func ResetDetected() {
	detected.Store(false)
}

// Mutex is a sync.Mutex checked by the deadlock detector when it is enabled.
type Mutex struct {
	godeadlock.Mutex
}

// RWMutex is a sync.RWMutex checked by the deadlock detector when it is enabled.
type RWMutex struct {
	godeadlock.RWMutex
}
