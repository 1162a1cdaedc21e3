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

package quotas

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
)

// Manager owns the process wide quotas: the current configuration, swapped atomically on
// reload, and the running counters of placed jobs which survive reloads.
type Manager struct {
	current atomic.Pointer[Quotas]
	totals  Usage
	invalid *log.RateLimitedLogger

	locking.RWMutex
}

func NewManager() *Manager {
	m := &Manager{
		totals:  make(Usage),
		invalid: log.RateLimitedLog(log.Quotas, time.Minute),
	}
	m.current.Store(Disabled())
	return m
}

// Load replaces the configuration. An invalid document disables quotas and returns the error:
// scheduling carries on without limits.
func (m *Manager) Load(enabled bool, cfg RulesConfig, opts Options) error {
	if !enabled {
		m.Disable()
		return nil
	}
	q, err := New(cfg, opts)
	if err != nil {
		m.current.Store(Disabled())
		m.invalid.Warn("quotas configuration invalid, quotas disabled", zap.Error(err))
		metrics.GetSchedulerMetrics().IncQuotasDisabled()
		return err
	}
	m.current.Store(q)
	log.Log(log.Quotas).Info("quotas configuration loaded",
		zap.Bool("temporal", q.Temporal()),
		zap.Int("ruleSets", len(q.ruleSets)))
	return nil
}

// Disable switches quotas off, running counters are kept.
func (m *Manager) Disable() {
	m.current.Store(Disabled())
	log.Log(log.Quotas).Info("quotas disabled")
}

// Current returns the configuration a pass works with for its whole duration.
func (m *Manager) Current() *Quotas {
	return m.current.Load()
}

// Record accounts a placed job in the running counters.
func (m *Manager) Record(c Consumer, nbResources int, duration int64) {
	m.Lock()
	defer m.Unlock()
	m.totals.Add(c, nbResources, duration)
}

// Release removes a finished job from the running counters.
func (m *Manager) Release(c Consumer, nbResources int, duration int64) {
	m.Lock()
	defer m.Unlock()
	m.totals.Remove(c, nbResources, duration)
}

// Totals returns a copy of the running counters.
func (m *Manager) Totals() Usage {
	m.RLock()
	defer m.RUnlock()
	return m.totals.Clone()
}

// Restore replaces the running counters, used when the counters are read back from the store.
func (m *Manager) Restore(totals Usage) {
	m.Lock()
	defer m.Unlock()
	m.totals = totals.Clone()
}
