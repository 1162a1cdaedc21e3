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
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/scheduler/policies"
	"github.com/kao-sched/kao-core/pkg/slots"
	"github.com/kao-sched/kao-core/pkg/store"
	"github.com/kao-sched/kao-core/pkg/trace"
)

// pass is the state of one scheduling pass, it owns its slot set.
type pass struct {
	id        string
	now       int64
	conf      Config
	registry  *policies.Registry
	cache     *hierarchy.Cache
	store     *store.Store
	quotas    *quotas.Quotas
	state     *fsm.FSM
	traceCtx  trace.TraceContext
	snapshot  *store.Snapshot
	hierarchy *hierarchy.Hierarchy
	slotSet   *slots.SlotSet
	policyCtx *policies.Context
	committed int
	result    *PassResult
}

// candidate placement of one moldable alternative
type candidate struct {
	alternative int
	begin       int64
	end         int64
	resources   resources.IntervalSet
}

func newPass(s *Scheduler, now int64) *pass {
	id := common.GetNewUUID()
	return &pass{
		id:       id,
		now:      now,
		conf:     s.conf,
		registry: s.registry,
		cache:    s.cache,
		store:    s.store,
		quotas:   s.quotas.Current(),
		state:    NewPassState(),
		traceCtx: s.tracer.NewTraceContext(),
		result: &PassResult{
			ID:    id,
			Begin: now,
			End:   now + s.conf.Horizon - 1,
		},
	}
}

func (p *pass) event(ev PassEvent) {
	if err := p.state.Event(context.Background(), ev.String(), p.id); err != nil {
		log.Log(log.Scheduler).Warn("pass state change failed",
			zap.String("passID", p.id),
			zap.String("event", ev.String()),
			zap.Error(err))
	}
}

func (p *pass) run(ctx context.Context, jobs []*objects.Job) (*PassResult, error) {
	root := p.traceCtx.StartSpan(trace.PassOperation)
	defer func() {
		root.SetTag(trace.SlotsKey, len(p.result.Slots))
		if err := p.traceCtx.FinishActiveSpan(); err != nil {
			log.Log(log.Trace).Debug("finishing pass span", zap.Error(err))
		}
	}()

	if err := p.seed(); err != nil {
		p.event(Fail)
		return nil, err
	}
	if jobs == nil {
		var err error
		if jobs, err = p.snapshot.PendingJobs(); err != nil {
			p.event(Fail)
			return nil, err
		}
	}
	trace.SetTags(root, trace.PassTags{ID: p.id, Begin: p.result.Begin, End: p.result.End, Jobs: len(jobs)})
	if err := ctx.Err(); err != nil {
		p.event(Abort)
		log.Log(log.Scheduler).Info("scheduling pass cancelled before scheduling",
			zap.String("passID", p.id))
		return nil, err
	}

	p.event(Start)
	cancelled := false
	for _, job := range jobs {
		if !cancelled && ctx.Err() != nil {
			if p.committed == 0 {
				p.event(Abort)
				log.Log(log.Scheduler).Info("scheduling pass cancelled",
					zap.String("passID", p.id),
					zap.Int("considered", len(p.result.Outcomes)))
				return nil, ctx.Err()
			}
			cancelled = true
			log.Log(log.Scheduler).Warn("cancellation ignored, jobs already committed",
				zap.String("passID", p.id),
				zap.Int("committed", p.committed),
				zap.Error(common.ErrPassCommitted))
		}
		if err := p.scheduleJob(job); err != nil {
			p.event(Fail)
			return nil, err
		}
	}
	if err := p.slotSet.Validate(); err != nil {
		p.event(Fail)
		return nil, err
	}

	p.result.Slots = p.slotSet.Dump()
	p.result.CharacterizationRead = p.policyCtx.CharacterizationRead()
	metrics.GetSchedulerMetrics().SetSlots(p.slotSet.Len())
	p.event(Complete)
	p.result.State = p.state.Current()
	return p.result, nil
}

// seed builds the hierarchy and the slot set of the pass from one store snapshot.
func (p *pass) seed() error {
	var err error
	if p.snapshot, err = p.store.Snapshot(); err != nil {
		return err
	}
	inventory, err := p.snapshot.Inventory()
	if err != nil {
		return err
	}
	if p.hierarchy, err = p.cache.Get(p.snapshot.Revision, inventory, p.conf.Levels); err != nil {
		return err
	}
	if p.slotSet, err = slots.NewSlotSet(p.result.Begin, p.result.End, p.hierarchy.All()); err != nil {
		return err
	}
	if p.quotas.Temporal() {
		p.slotSet.QuotaPartition(p.quotas.Calendar())
	}
	running, err := p.snapshot.Assignments(p.result.Begin, p.result.End)
	if err != nil {
		return err
	}
	for _, a := range running {
		begin := maxInt64(a.Begin, p.result.Begin)
		end := minInt64(a.End, p.result.End)
		charge := &slots.Charge{Consumer: a.Consumer(), Resources: a.Resources.Len(), Duration: a.Duration()}
		if err = p.slotSet.Occupy(begin, end, a.Resources, charge); err != nil {
			return err
		}
	}
	if err = p.slotSet.Validate(); err != nil {
		return err
	}

	snapshot := p.snapshot
	nodeLevel := p.conf.PolicyOptions.NodeLevel
	depth := p.conf.HistoryDepth
	p.policyCtx = policies.NewContext(p.hierarchy, p.result.Begin, p.conf.PolicyOptions,
		policies.CharacterizationFunc(func() (map[string]objects.Class, error) {
			return snapshot.NodeCharacterization(nodeLevel, depth)
		}))
	p.result.Revision = p.snapshot.Revision
	p.result.QuotasEnabled = p.quotas.Enabled()
	p.event(Seed)
	log.Log(log.Scheduler).Debug("slot set seeded",
		zap.String("passID", p.id),
		zap.Uint64("revision", p.snapshot.Revision),
		zap.Int("resources", p.hierarchy.All().Len()),
		zap.Int("running", len(running)),
		zap.Int("slots", p.slotSet.Len()))
	return nil
}

// scheduleJob places one job or records why it could not be placed. Only an inconsistent slot
// set is returned as an error.
func (p *pass) scheduleJob(job *objects.Job) error {
	p.traceCtx.StartSpan(trace.JobOperation)
	outcome := JobOutcome{JobID: job.ID, Alternative: -1}
	defer func() {
		if span, err := p.traceCtx.ActiveSpan(); err == nil {
			trace.SetTags(span, trace.JobTags{JobID: job.ID, Policy: outcome.Policy, Outcome: outcome.Outcome, Reason: outcome.Reason})
		}
		if err := p.traceCtx.FinishActiveSpan(); err != nil {
			log.Log(log.Trace).Debug("finishing job span", zap.Error(err))
		}
		p.result.addOutcome(outcome)
	}()

	if err := job.Validate(p.hierarchy); err != nil {
		outcome.Outcome = metrics.JobRejected
		outcome.Reason = err.Error()
		log.Log(log.Scheduler).Info("job rejected",
			zap.String("jobID", job.ID),
			zap.Error(err))
		return nil
	}
	policy, err := p.registry.Select(job)
	if err != nil {
		outcome.Outcome = metrics.JobRejected
		outcome.Reason = err.Error()
		log.Log(log.Scheduler).Info("job rejected",
			zap.String("jobID", job.ID),
			zap.Error(err))
		return nil
	}
	outcome.Policy = policy.Name()

	var best *candidate
	reason := common.ErrInfeasible.Error()
	for i, alt := range job.Alternatives {
		c, why := p.firstFit(policy, job, alt)
		if c == nil {
			if why != "" {
				reason = why
			}
			continue
		}
		c.alternative = i
		// earliest finish, the lowest index on a tie
		if best == nil || c.end < best.end {
			best = c
		}
	}
	if best == nil {
		outcome.Outcome = metrics.JobInfeasible
		outcome.Reason = reason
		log.Log(log.Scheduler).Debug("job not placed in this pass",
			zap.String("jobID", job.ID),
			zap.String("reason", reason))
		return nil
	}

	walltime := job.Alternatives[best.alternative].Walltime
	charge := &slots.Charge{Consumer: job.Consumer(), Resources: best.resources.Len(), Duration: walltime}
	if err = p.slotSet.Commit(best.begin, best.end, best.resources, charge); err != nil {
		outcome.Outcome = metrics.JobInfeasible
		outcome.Reason = err.Error()
		return err
	}
	p.committed++
	assignment := objects.NewAssignment(job, best.begin, walltime, best.resources)
	p.result.Placements = append(p.result.Placements, assignment)
	outcome.Outcome = metrics.JobPlaced
	outcome.Alternative = best.alternative
	if span, err := p.traceCtx.ActiveSpan(); err == nil {
		span.SetTag(trace.StartKey, best.begin)
		span.SetTag(trace.ResourceKey, best.resources.String())
	}
	log.Log(log.Scheduler).Debug("job placed",
		zap.String("jobID", job.ID),
		zap.String("policy", policy.Name()),
		zap.Int("alternative", best.alternative),
		zap.Int64("begin", best.begin),
		zap.Int64("end", best.end),
		zap.Stringer("resources", best.resources))
	return nil
}

// firstFit walks the slot chain and returns the first start at which the policy finds resources
// free for the whole walltime and the quotas allow the job. The reason of the last quota refusal
// is returned when nothing fits.
func (p *pass) firstFit(policy policies.Policy, job *objects.Job, alt objects.Alternative) (*candidate, string) {
	if alt.Walltime > p.slotSet.End()-p.slotSet.Begin()+1 {
		return nil, fmt.Sprintf("walltime %d exceeds the horizon", alt.Walltime)
	}
	consumer := job.Consumer()
	m := metrics.GetSchedulerMetrics()
	reason := ""
	for s := p.slotSet.First(); s != nil; s = s.Next() {
		begin := s.Begin
		end := begin + alt.Walltime - 1
		if end > p.slotSet.End() {
			break
		}
		free, err := p.slotSet.FreeOver(begin, end)
		if err != nil || free.IsEmpty() {
			continue
		}
		start := time.Now()
		found := policy.Find(p.policyCtx, free, alt.Request)
		m.ObservePolicyLatency(start)
		if found.IsEmpty() {
			continue
		}
		if ok, why := p.quotasFit(begin, end, consumer, found.Len(), alt.Walltime); !ok {
			reason = why
			continue
		}
		return &candidate{begin: begin, end: end, resources: found}, ""
	}
	return nil, reason
}

// quotasFit checks the job against the rule set and usage of every slot it would cover.
func (p *pass) quotasFit(begin, end int64, c quotas.Consumer, nbResources int, duration int64) (bool, string) {
	if !p.quotas.Enabled() {
		return true, ""
	}
	for _, s := range p.slotSet.Covering(begin, end) {
		if ok, reason := p.quotas.Check(s.QuotaRuleID, s.Usage, c, nbResources, duration); !ok {
			return false, reason
		}
	}
	return true, ""
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
