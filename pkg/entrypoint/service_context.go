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

package entrypoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/store"
	"github.com/kao-sched/kao-core/pkg/trace"
	"github.com/kao-sched/kao-core/pkg/webservice"
)

type ServiceContext struct {
	Store     *store.Store
	Quotas    *quotas.Manager
	Scheduler *scheduler.Scheduler
	WebApp    *webservice.WebService
	Tracer    trace.SchedulerTracer

	// Clock returns the current time in seconds, passes start at this time
	Clock func() int64

	watcher   *configs.ConfigWatcher
	baseDir   string
	trigger   chan struct{}
	intervals chan time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	// serialises passes: expire, schedule and apply form one transaction
	passLock locking.Mutex
	stopOnce sync.Once
}

func newServiceContext(st *store.Store, manager *quotas.Manager, sched *scheduler.Scheduler, tracer trace.SchedulerTracer, baseDir string) *ServiceContext {
	return &ServiceContext{
		Store:     st,
		Quotas:    manager,
		Scheduler: sched,
		Tracer:    tracer,
		Clock: func() int64 {
			return time.Now().Unix()
		},
		baseDir:   baseDir,
		trigger:   make(chan struct{}, 1),
		intervals: make(chan time.Duration, 1),
	}
}

// restoreCounters reads back the quota counters of the running jobs.
func (s *ServiceContext) restoreCounters() error {
	snapshot, err := s.Store.Snapshot()
	if err != nil {
		return err
	}
	counters, err := snapshot.Counters()
	if err != nil {
		return err
	}
	if len(counters) > 0 {
		s.Quotas.Restore(counters)
	}
	return nil
}

// RunPass runs one pass starting at the current time of the clock.
func (s *ServiceContext) RunPass(ctx context.Context) (*scheduler.PassResult, error) {
	return s.RunPassAt(ctx, s.Clock())
}

// RunPassAt expires the assignments finished before now, schedules the pending jobs and
// records the placements in the store and the quota counters.
func (s *ServiceContext) RunPassAt(ctx context.Context, now int64) (*scheduler.PassResult, error) {
	s.passLock.Lock()
	defer s.passLock.Unlock()

	expired, err := s.Store.Expire(now)
	if err != nil {
		return nil, err
	}
	for _, a := range expired {
		s.Quotas.Release(a.Consumer(), a.Resources.Len(), a.Duration())
	}
	result, err := s.Scheduler.Schedule(ctx, now, nil)
	if err != nil {
		return nil, err
	}
	totals := s.Quotas.Totals()
	for _, a := range result.Placements {
		totals.Add(a.Consumer(), a.Resources.Len(), a.Duration())
	}
	if err = s.Store.Apply(result.Placements, result.Rejected(), totals); err != nil {
		return nil, err
	}
	for _, a := range result.Placements {
		s.Quotas.Record(a.Consumer(), a.Resources.Len(), a.Duration())
	}
	log.Log(log.Core).Debug("pass applied",
		zap.String("passID", result.ID),
		zap.Int("expired", len(expired)),
		zap.Int("placed", len(result.Placements)))
	return result, nil
}

// Trigger requests a pass from the scheduling loop, triggers arriving while one is pending
// are merged.
func (s *ServiceContext) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *ServiceContext) startSchedulingLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.schedulingLoop(ctx, interval)
}

func (s *ServiceContext) schedulingLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.intervals:
			ticker.Reset(d)
			continue
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.RunPass(ctx); err != nil && ctx.Err() == nil {
			log.Log(log.Core).Error("scheduling pass failed", zap.Error(err))
		}
	}
}

// DoReloadConfiguration applies a changed configuration file: the scheduler configuration is
// replaced and the quotas are rebuilt. Quotas failing to load are disabled, the reload succeeds.
func (s *ServiceContext) DoReloadConfiguration(conf *configs.SchedulerConfig) error {
	if err := s.Scheduler.Reconfigure(scheduler.ConfigFrom(conf)); err != nil {
		return err
	}
	if err := conf.LoadQuotas(s.Quotas, s.baseDir); err != nil {
		log.Log(log.Core).Warn("reloaded configuration disables quotas", zap.Error(err))
	}
	if s.done != nil {
		select {
		case s.intervals <- conf.Interval:
		default:
		}
	}
	return nil
}

func (s *ServiceContext) StopAll() {
	s.stopOnce.Do(func() {
		log.Log(log.Core).Info("ServiceContext stop all services")
		if s.WebApp != nil {
			if err := s.WebApp.StopWebApp(); err != nil {
				log.Log(log.Core).Error("failed to stop web-app",
					zap.Error(err))
			}
		}
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.Tracer.Close()
	})
}
