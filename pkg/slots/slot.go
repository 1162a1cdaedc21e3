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

package slots

import (
	"fmt"

	"github.com/google/btree"

	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

// Slot is a time range [Begin, End], both inclusive, during which the free resources and the
// quota rule set do not change.
type Slot struct {
	Begin       int64
	End         int64
	Free        resources.IntervalSet
	QuotaRuleID int
	// usage of the jobs committed over the slot, checked against the rule set of QuotaRuleID
	Usage quotas.Usage

	prev *Slot
	next *Slot
}

func (s *Slot) Next() *Slot {
	return s.next
}

func (s *Slot) Prev() *Slot {
	return s.prev
}

// Duration in seconds.
func (s *Slot) Duration() int64 {
	return s.End - s.Begin + 1
}

func (s *Slot) Contains(t int64) bool {
	return s.Begin <= t && t <= s.End
}

func (s *Slot) String() string {
	return fmt.Sprintf("[%d, %d] free=%s quota=%d", s.Begin, s.End, s.Free, s.QuotaRuleID)
}

func (s *Slot) sameState(o *Slot) bool {
	return s.QuotaRuleID == o.QuotaRuleID && s.Free.Equal(o.Free) && s.Usage.Equal(o.Usage)
}

// slotRef is the btree entry of a slot, slot begins never change once inserted
type slotRef struct {
	begin int64
	slot  *Slot
}

func (sr slotRef) Less(than btree.Item) bool {
	return sr.begin < than.(slotRef).begin
}

// Info is the exported view of a slot.
type Info struct {
	Begin       int64  `json:"begin" yaml:"begin"`
	End         int64  `json:"end" yaml:"end"`
	Free        string `json:"free" yaml:"free"`
	QuotaRuleID int    `json:"quotaRuleId" yaml:"quotaRuleId"`
	Jobs        int    `json:"jobs" yaml:"jobs"`
}

func (s *Slot) Info() Info {
	return Info{
		Begin:       s.Begin,
		End:         s.End,
		Free:        s.Free.String(),
		QuotaRuleID: s.QuotaRuleID,
		Jobs:        s.Usage[quotas.Key{Queue: quotas.Aggregate, Project: quotas.Aggregate, JobType: quotas.Aggregate, User: quotas.Aggregate}].Jobs,
	}
}
