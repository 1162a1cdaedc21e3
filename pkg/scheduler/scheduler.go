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

package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/scheduler/policies"
	"github.com/kao-sched/kao-core/pkg/store"
	"github.com/kao-sched/kao-core/pkg/trace"
)

const hierarchyCacheSize = 16

// Config of the scheduling passes.
type Config struct {
	// Levels of the hierarchy, coarse to fine
	Levels []string
	// Horizon length in seconds
	Horizon       int64
	PolicyOptions policies.Options
	DefaultPolicy string
	// number of recent assignments per node read for the characterization
	HistoryDepth int
}

// ConfigFrom extracts the pass configuration from the scheduler configuration.
func ConfigFrom(conf *configs.SchedulerConfig) Config {
	return Config{
		Levels:        conf.Hierarchy.Levels,
		Horizon:       conf.Horizon,
		PolicyOptions: conf.PolicyOptions(),
		DefaultPolicy: conf.Policies.Default,
		HistoryDepth:  conf.Policies.HistoryDepth,
	}
}

// Scheduler runs scheduling passes over the state of a store. Passes are serialised: the lock is
// the transactional boundary between passes committing assignments.
type Scheduler struct {
	store    *store.Store
	quotas   *quotas.Manager
	cache    *hierarchy.Cache
	tracer   trace.SchedulerTracer
	conf     Config
	registry *policies.Registry
	last     *PassResult

	locking.Mutex
}

func New(st *store.Store, manager *quotas.Manager, tracer trace.SchedulerTracer, conf Config) (*Scheduler, error) {
	registry, err := policies.NewRegistry(conf.DefaultPolicy)
	if err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = trace.NewNoopSchedulerTracer()
	}
	return &Scheduler{
		store:    st,
		quotas:   manager,
		cache:    hierarchy.NewCache(hierarchyCacheSize),
		tracer:   tracer,
		conf:     conf,
		registry: registry,
	}, nil
}

// Reconfigure replaces the pass configuration, passes already running keep the old one.
func (s *Scheduler) Reconfigure(conf Config) error {
	registry, err := policies.NewRegistry(conf.DefaultPolicy)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.conf = conf
	s.registry = registry
	s.cache.Purge()
	log.Log(log.Scheduler).Info("scheduler reconfigured",
		zap.Strings("levels", conf.Levels),
		zap.Int64("horizon", conf.Horizon),
		zap.String("defaultPolicy", registry.Default().Name()))
	return nil
}

// LastResult returns the result of the last pass that completed, nil before the first one.
func (s *Scheduler) LastResult() *PassResult {
	s.Lock()
	defer s.Unlock()
	return s.last
}

func (s *Scheduler) Quotas() *quotas.Manager {
	return s.quotas
}

// Schedule runs one pass starting at now over the jobs, or over the pending jobs of the store
// when jobs is nil. Placements are returned, not written: the caller applies them to the store
// before the next pass.
//
// Cancelling ctx aborts the pass as long as no job was committed. Once a job is committed the
// pass runs to completion.
func (s *Scheduler) Schedule(ctx context.Context, now int64, jobs []*objects.Job) (*PassResult, error) {
	s.Lock()
	defer s.Unlock()
	start := time.Now()
	m := metrics.GetSchedulerMetrics()
	defer m.ObservePassLatency(start)

	p := newPass(s, now)
	result, err := p.run(ctx, jobs)
	switch p.state.Current() {
	case PassCompleted.String():
		m.IncPass(metrics.PassCompleted)
		s.last = result
	case PassAborted.String():
		m.IncPass(metrics.PassAborted)
	default:
		m.IncPass(metrics.PassFailed)
	}
	if err != nil {
		return nil, err
	}
	log.Log(log.Scheduler).Info("scheduling pass completed",
		zap.String("passID", result.ID),
		zap.Int("placed", result.Count(metrics.JobPlaced)),
		zap.Int("infeasible", result.Count(metrics.JobInfeasible)),
		zap.Int("rejected", result.Count(metrics.JobRejected)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}
