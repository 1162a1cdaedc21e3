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
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/slots"
)

// JobOutcome is what a pass decided for one job.
type JobOutcome struct {
	JobID   string `json:"jobId" yaml:"jobId"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Policy  string `json:"policy,omitempty" yaml:"policy,omitempty"`
	// index of the chosen moldable alternative, -1 unless placed
	Alternative int    `json:"alternative" yaml:"alternative"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// PassResult of one scheduling pass.
type PassResult struct {
	ID    string `json:"id" yaml:"id"`
	Begin int64  `json:"begin" yaml:"begin"`
	End   int64  `json:"end" yaml:"end"`
	State string `json:"state" yaml:"state"`
	// Revision of the inventory the pass worked on
	Revision             uint64                `json:"revision" yaml:"revision"`
	QuotasEnabled        bool                  `json:"quotasEnabled" yaml:"quotasEnabled"`
	CharacterizationRead bool                  `json:"characterizationRead" yaml:"characterizationRead"`
	Placements           []*objects.Assignment `json:"placements" yaml:"placements"`
	Outcomes             []JobOutcome          `json:"outcomes" yaml:"outcomes"`
	Slots                []slots.Info          `json:"slots" yaml:"slots"`
}

func (r *PassResult) addOutcome(outcome JobOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
	metrics.GetSchedulerMetrics().IncJobOutcome(outcome.Outcome)
}

// Outcome returns the outcome of a job, false when the pass did not consider it.
func (r *PassResult) Outcome(jobID string) (JobOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.JobID == jobID {
			return o, true
		}
	}
	return JobOutcome{}, false
}

// Placement returns the assignment of a placed job, nil otherwise.
func (r *PassResult) Placement(jobID string) *objects.Assignment {
	for _, a := range r.Placements {
		if a.JobID == jobID {
			return a
		}
	}
	return nil
}

// Rejected returns the ids of the jobs whose request could not be interpreted.
func (r *PassResult) Rejected() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Outcome == metrics.JobRejected {
			ids = append(ids, o.JobID)
		}
	}
	return ids
}

// Count returns the number of jobs with the outcome.
func (r *PassResult) Count(outcome string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Outcome == outcome {
			n++
		}
	}
	return n
}
