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
	"errors"
	"fmt"
	"strings"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

// ErrOutOfHorizon is returned for a time range not wholly inside the slot set.
var ErrOutOfHorizon = errors.New("time range outside of the slot set horizon")

// RuleCalendar gives the quota rule set id active at a time and the seconds until it changes.
type RuleCalendar interface {
	RulesAt(t int64) (int, int64)
}

// Charge is the quota usage a committed job adds to every slot it covers.
type Charge struct {
	Consumer  quotas.Consumer
	Resources int
	Duration  int64
}

// SlotSet is the chain of slots covering a scheduling horizon. It is owned by one pass and
// not safe for concurrent use.
type SlotSet struct {
	begin int64
	end   int64
	first *Slot
	last  *Slot
	index *btree.BTree
}

// NewSlotSet creates a set with one slot [begin, end] holding the free resources.
func NewSlotSet(begin, end int64, free resources.IntervalSet) (*SlotSet, error) {
	if end < begin {
		return nil, common.NewConfigurationError("horizon", -1, "horizon end %d before begin %d", end, begin)
	}
	slot := &Slot{
		Begin:       begin,
		End:         end,
		Free:        free,
		QuotaRuleID: quotas.NoRule,
		Usage:       make(quotas.Usage),
	}
	ss := &SlotSet{
		begin: begin,
		end:   end,
		first: slot,
		last:  slot,
		index: btree.New(16),
	}
	ss.index.ReplaceOrInsert(slotRef{begin: begin, slot: slot})
	return ss, nil
}

func (ss *SlotSet) Begin() int64 {
	return ss.begin
}

func (ss *SlotSet) End() int64 {
	return ss.end
}

func (ss *SlotSet) First() *Slot {
	return ss.first
}

func (ss *SlotSet) Last() *Slot {
	return ss.last
}

func (ss *SlotSet) Len() int {
	return ss.index.Len()
}

// Slots returns the chain in time order.
func (ss *SlotSet) Slots() []*Slot {
	out := make([]*Slot, 0, ss.index.Len())
	for s := ss.first; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}

// Dump returns the exported view of every slot.
func (ss *SlotSet) Dump() []Info {
	out := make([]Info, 0, ss.index.Len())
	for s := ss.first; s != nil; s = s.next {
		out = append(out, s.Info())
	}
	return out
}

func (ss *SlotSet) String() string {
	var sb strings.Builder
	for s := ss.first; s != nil; s = s.next {
		sb.WriteString(s.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Locate returns the slot holding t, nil outside the horizon.
func (ss *SlotSet) Locate(t int64) *Slot {
	if t < ss.begin || t > ss.end {
		return nil
	}
	var found *Slot
	ss.index.DescendLessOrEqual(slotRef{begin: t}, func(item btree.Item) bool {
		found = item.(slotRef).slot
		return false
	})
	return found
}

// SplitAt makes t the begin of a slot and returns that slot. The slot holding t is cut in two
// slots with the same state; nothing changes when t already starts a slot. The result is nil
// when t is outside the horizon.
func (ss *SlotSet) SplitAt(t int64) *Slot {
	s := ss.Locate(t)
	if s == nil || s.Begin == t {
		return s
	}
	return ss.split(s, t)
}

func (ss *SlotSet) split(s *Slot, t int64) *Slot {
	tail := &Slot{
		Begin:       t,
		End:         s.End,
		Free:        s.Free,
		QuotaRuleID: s.QuotaRuleID,
		Usage:       s.Usage.Clone(),
		prev:        s,
		next:        s.next,
	}
	if s.next != nil {
		s.next.prev = tail
	} else {
		ss.last = tail
	}
	s.next = tail
	s.End = t - 1
	ss.index.ReplaceOrInsert(slotRef{begin: t, slot: tail})
	return tail
}

// Covering returns the slots overlapping [begin, end].
func (ss *SlotSet) Covering(begin, end int64) []*Slot {
	var out []*Slot
	s := ss.Locate(maxInt64(begin, ss.begin))
	for ; s != nil && s.Begin <= end; s = s.next {
		out = append(out, s)
	}
	return out
}

// FreeOver returns the resources free during the whole range.
func (ss *SlotSet) FreeOver(begin, end int64) (resources.IntervalSet, error) {
	if err := ss.checkRange(begin, end); err != nil {
		return resources.IntervalSet{}, err
	}
	slots := ss.Covering(begin, end)
	free := slots[0].Free
	for _, s := range slots[1:] {
		free = free.Intersection(s.Free)
	}
	return free, nil
}

// Subtract removes the resources from every slot of [begin, end], splitting the boundary slots
// first. Resources already missing from a slot are ignored.
func (ss *SlotSet) Subtract(begin, end int64, res resources.IntervalSet) error {
	return ss.apply(begin, end, res, nil)
}

// Commit is Subtract for a placement: the resources must be free in every slot of the range,
// and the charge is added to the usage of those slots. Nothing is modified on error.
func (ss *SlotSet) Commit(begin, end int64, res resources.IntervalSet, charge *Charge) error {
	if err := ss.checkRange(begin, end); err != nil {
		return err
	}
	for _, s := range ss.Covering(begin, end) {
		if !res.IsSubset(s.Free) {
			return common.NewInternalConsistencyError("resources %s not free in slot %s", res.Difference(s.Free), s)
		}
	}
	return ss.apply(begin, end, res, charge)
}

// Occupy is Subtract for a job already running: resources already missing are ignored and the
// charge is added to the usage of the covered slots.
func (ss *SlotSet) Occupy(begin, end int64, res resources.IntervalSet, charge *Charge) error {
	return ss.apply(begin, end, res, charge)
}

func (ss *SlotSet) apply(begin, end int64, res resources.IntervalSet, charge *Charge) error {
	if err := ss.checkRange(begin, end); err != nil {
		return err
	}
	first := ss.SplitAt(begin)
	if end < ss.end {
		ss.SplitAt(end + 1)
	}
	for s := first; s != nil && s.End <= end; s = s.next {
		s.Free = s.Free.Difference(res)
		if charge != nil {
			s.Usage.Add(charge.Consumer, charge.Resources, charge.Duration)
		}
	}
	from := first
	if first.prev != nil {
		from = first.prev
	}
	ss.coalesce(from, end+1)
	if log.IsDebugEnabled(log.Slots) {
		log.Log(log.Slots).Debug("resources subtracted",
			zap.Int64("begin", begin),
			zap.Int64("end", end),
			zap.Stringer("resources", res),
			zap.Int("slots", ss.Len()))
	}
	return nil
}

func (ss *SlotSet) checkRange(begin, end int64) error {
	if begin > end || begin < ss.begin || end > ss.end {
		return fmt.Errorf("%w: [%d, %d] not in [%d, %d]", ErrOutOfHorizon, begin, end, ss.begin, ss.end)
	}
	return nil
}

// Coalesce merges every run of adjacent slots with the same state.
func (ss *SlotSet) Coalesce() {
	ss.coalesce(ss.first, ss.end)
}

// coalesce merges adjacent slots with the same state from slot from until the slot holding until
func (ss *SlotSet) coalesce(from *Slot, until int64) {
	s := from
	for s != nil && s.next != nil && s.Begin <= until {
		n := s.next
		if !s.sameState(n) {
			s = n
			continue
		}
		s.End = n.End
		s.next = n.next
		if n.next != nil {
			n.next.prev = s
		} else {
			ss.last = s
		}
		ss.index.Delete(slotRef{begin: n.Begin})
	}
}

// QuotaPartition assigns every slot the rule set id active at its begin, splitting a slot where
// the rule set changes within it. A nil calendar assigns NoRule everywhere.
func (ss *SlotSet) QuotaPartition(calendar RuleCalendar) {
	for s := ss.first; s != nil; s = s.next {
		if calendar == nil {
			s.QuotaRuleID = quotas.NoRule
			continue
		}
		id, remaining := calendar.RulesAt(s.Begin)
		s.QuotaRuleID = id
		// remaining is below the slot length when the rule set changes inside the slot
		if remaining > 0 && remaining < s.Duration() {
			ss.split(s, s.Begin+remaining)
		}
	}
	ss.Coalesce()
	log.Log(log.Slots).Debug("slot set partitioned by quotas calendar",
		zap.Int("slots", ss.Len()))
}

// Validate checks the chain: gapless, non overlapping, covering the horizon, links and index
// consistent.
func (ss *SlotSet) Validate() error {
	if ss.first == nil || ss.first.Begin != ss.begin || ss.first.prev != nil {
		return common.NewInternalConsistencyError("chain does not start at %d", ss.begin)
	}
	count := 0
	for s := ss.first; s != nil; s = s.next {
		count++
		if s.Begin > s.End {
			return common.NewInternalConsistencyError("slot %s is empty", s)
		}
		if found := ss.index.Get(slotRef{begin: s.Begin}); found == nil || found.(slotRef).slot != s {
			return common.NewInternalConsistencyError("slot %s missing from index", s)
		}
		if s.next == nil {
			if s != ss.last || s.End != ss.end {
				return common.NewInternalConsistencyError("chain does not end at %d", ss.end)
			}
			continue
		}
		if s.next.prev != s {
			return common.NewInternalConsistencyError("broken link after slot %s", s)
		}
		if s.next.Begin != s.End+1 {
			return common.NewInternalConsistencyError("gap or overlap between %s and %s", s, s.next)
		}
	}
	if count != ss.index.Len() {
		return common.NewInternalConsistencyError("index holds %d slots, chain %d", ss.index.Len(), count)
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
