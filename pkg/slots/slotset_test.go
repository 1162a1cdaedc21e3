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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

func ids(t *testing.T, str string) resources.IntervalSet {
	t.Helper()
	set, err := resources.Parse(str)
	assert.NilError(t, err, "bad interval set %q", str)
	return set
}

func newSet(t *testing.T, begin, end int64, free string) *SlotSet {
	t.Helper()
	ss, err := NewSlotSet(begin, end, ids(t, free))
	assert.NilError(t, err, "slot set creation failed")
	return ss
}

// chain renders every slot as "begin-end:free"
func chain(ss *SlotSet) []string {
	var out []string
	for _, s := range ss.Slots() {
		out = append(out, fmt.Sprintf("%d-%d:%s", s.Begin, s.End, s.Free))
	}
	return out
}

func TestNewSlotSet(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	assert.Equal(t, 1, ss.Len())
	assert.Equal(t, int64(1), ss.Begin())
	assert.Equal(t, int64(100), ss.End())
	assert.Equal(t, ss.First(), ss.Last())
	assert.Equal(t, quotas.NoRule, ss.First().QuotaRuleID)
	assert.Equal(t, int64(100), ss.First().Duration())
	assert.NilError(t, ss.Validate())

	_, err := NewSlotSet(10, 9, resources.IntervalSet{})
	assert.Assert(t, common.IsConfigurationError(err))
}

func TestSplitAt(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	s := ss.SplitAt(50)
	assert.Equal(t, int64(50), s.Begin)
	assert.DeepEqual(t, []string{"1-49:1-32", "50-100:1-32"}, chain(ss))
	assert.Equal(t, s, ss.SplitAt(50), "split at a boundary is a no-op")
	assert.Equal(t, ss.First(), ss.SplitAt(1))
	assert.Equal(t, 2, ss.Len())
	assert.Assert(t, ss.SplitAt(0) == nil)
	assert.Assert(t, ss.SplitAt(101) == nil)

	last := ss.SplitAt(100)
	assert.Equal(t, int64(1), last.Duration())
	assert.Equal(t, last, ss.Last())
	assert.Equal(t, s, last.Prev())
	assert.Assert(t, last.Next() == nil)
	assert.NilError(t, ss.Validate())
}

func TestLocate(t *testing.T) {
	ss := newSet(t, 0, 99, "1-8")
	for _, cut := range []int64{10, 35, 36, 90, 20} {
		ss.SplitAt(cut)
	}
	assert.Equal(t, 6, ss.Len())
	for ts := int64(0); ts < 100; ts++ {
		s := ss.Locate(ts)
		assert.Assert(t, s != nil && s.Contains(ts), "no slot for %d", ts)
	}
	assert.Assert(t, ss.Locate(-1) == nil)
	assert.Assert(t, ss.Locate(100) == nil)
	assert.Equal(t, int64(35), ss.Locate(35).Begin)
	assert.Equal(t, int64(35), ss.Locate(35).End)
}

// two jobs placed before the pass: j1 at 5 for 10s on 10-20, j2 at 30 for 20s on 5-15 20-28
func TestCommitPreviousJobs(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	charge := &Charge{Consumer: quotas.Consumer{Queue: "default", User: "u"}, Resources: 11, Duration: 10}
	assert.NilError(t, ss.Commit(5, 14, ids(t, "10-20"), charge))
	assert.NilError(t, ss.Commit(30, 49, ids(t, "5-15 20-28"), nil))
	want := []string{
		"1-4:1-32",
		"5-14:1-9 21-32",
		"15-29:1-32",
		"30-49:1-4 16-19 29-32",
		"50-100:1-32",
	}
	assert.DeepEqual(t, want, chain(ss))
	assert.NilError(t, ss.Validate())

	dump := ss.Dump()
	assert.Equal(t, 1, dump[1].Jobs)
	assert.Equal(t, 0, dump[3].Jobs)
	assert.Equal(t, Info{Begin: 5, End: 14, Free: "1-9 21-32", QuotaRuleID: -1, Jobs: 1}, dump[1])
	assert.Assert(t, strings.Contains(ss.String(), "[5, 14] free=1-9 21-32 quota=-1"))

	free, err := ss.FreeOver(10, 35)
	assert.NilError(t, err)
	assert.Equal(t, "1-4 29-32", free.String())
	assert.Equal(t, 3, len(ss.Covering(10, 35)))
}

func TestCommitErrors(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	assert.NilError(t, ss.Commit(10, 20, ids(t, "1-4"), nil))
	before := ss.String()

	err := ss.Commit(90, 120, ids(t, "5"), nil)
	assert.Assert(t, errors.Is(err, ErrOutOfHorizon))
	err = ss.Commit(20, 10, ids(t, "5"), nil)
	assert.Assert(t, errors.Is(err, ErrOutOfHorizon))
	_, err = ss.FreeOver(0, 10)
	assert.Assert(t, errors.Is(err, ErrOutOfHorizon))

	// 4 is busy from 10 to 20: nothing is split or subtracted
	err = ss.Commit(5, 15, ids(t, "4-6"), nil)
	assert.Assert(t, common.IsInternalConsistencyError(err), "unexpected error: %v", err)
	assert.Equal(t, before, ss.String())

	// subtract is lenient
	assert.NilError(t, ss.Subtract(5, 15, ids(t, "4-6")))
	assert.DeepEqual(t, []string{"1-4:1-32", "5-9:1-3 7-32", "10-15:7-32", "16-20:5-32", "21-100:1-32"}, chain(ss))
}

func TestCoalesce(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	assert.NilError(t, ss.Subtract(10, 20, ids(t, "1-4")))
	assert.NilError(t, ss.Subtract(21, 30, ids(t, "1-4")))
	assert.DeepEqual(t, []string{"1-9:1-32", "10-30:5-32", "31-100:1-32"}, chain(ss))
	assert.NilError(t, ss.Subtract(1, 9, ids(t, "1-4")))
	assert.NilError(t, ss.Subtract(31, 100, ids(t, "1-4")))
	assert.DeepEqual(t, []string{"1-100:5-32"}, chain(ss))
	assert.NilError(t, ss.Validate())

	// slots with different usage are kept apart
	charge := &Charge{Consumer: quotas.Consumer{User: "u"}, Resources: 1, Duration: 1}
	assert.NilError(t, ss.Commit(1, 50, ids(t, "5"), charge))
	assert.NilError(t, ss.Commit(51, 100, ids(t, "5"), nil))
	assert.DeepEqual(t, []string{"1-50:6-32", "51-100:6-32"}, chain(ss))
	ss.Coalesce()
	assert.Equal(t, 2, ss.Len())
}

func TestValidateDetectsCorruption(t *testing.T) {
	ss := newSet(t, 1, 100, "1-32")
	ss.SplitAt(50)
	ss.First().End = 40
	err := ss.Validate()
	assert.Assert(t, common.IsInternalConsistencyError(err))
	assert.ErrorContains(t, err, "gap or overlap")

	ss = newSet(t, 1, 100, "1-32")
	ss.SplitAt(50)
	ss.Last().End = 99
	assert.ErrorContains(t, ss.Validate(), "does not end at 100")

	ss = newSet(t, 1, 100, "1-32")
	ss.SplitAt(50)
	ss.Last().prev = nil
	assert.ErrorContains(t, ss.Validate(), "broken link")
}

// fixed rule sets changing every period seconds, cycling over three ids
type cyclingCalendar struct {
	period int64
}

func (c cyclingCalendar) RulesAt(t int64) (int, int64) {
	return int((t / c.period) % 3), c.period - t%c.period
}

func TestQuotaPartitionCycling(t *testing.T) {
	ss := newSet(t, 0, 24, "1-4")
	ss.QuotaPartition(cyclingCalendar{period: 10})
	var got []string
	for _, s := range ss.Slots() {
		got = append(got, fmt.Sprintf("%d-%d/%d", s.Begin, s.End, s.QuotaRuleID))
	}
	assert.DeepEqual(t, []string{"0-9/0", "10-19/1", "20-24/2"}, got)
	assert.NilError(t, ss.Validate())

	ss.QuotaPartition(nil)
	assert.Equal(t, 1, ss.Len(), "no calendar coalesces the whole horizon")
	assert.Equal(t, quotas.NoRule, ss.First().QuotaRuleID)
}

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

type durationID struct {
	Duration int64
	ID       int
}

func partitioned(t *testing.T, period, end int64) []durationID {
	t.Helper()
	calendar, err := quotas.ParseCalendar(quotas.CalendarRules{
		Periodical: []quotas.PeriodicalRule{
			{Pattern: "* mon-wed * *", RuleSet: "quotas_1"},
			{Pattern: "* thu-sun * *", RuleSet: "quotas_2"},
		},
	}, period, time.UTC)
	assert.NilError(t, err)
	ss := newSet(t, monday, end, "1-32")
	ss.QuotaPartition(calendar)
	assert.NilError(t, ss.Validate())
	var out []durationID
	for _, s := range ss.Slots() {
		out = append(out, durationID{s.Duration(), s.QuotaRuleID})
	}
	first := ss.String()
	ss.QuotaPartition(calendar)
	assert.Equal(t, first, ss.String(), "partition is idempotent")
	return out
}

func TestQuotaPartitionCalendar(t *testing.T) {
	const day, week = int64(86400), int64(7 * 86400)
	tests := []struct {
		name   string
		period int64
		end    int64
		want   []durationID
	}{
		{"four days", 3 * week, monday + 4*day, []durationID{{259200, 0}, {86401, 1}}},
		{"two weeks", 3 * week, monday + 2*week - 1, []durationID{{259200, 0}, {345600, 1}, {259200, 0}, {345600, 1}}},
		{"two weeks and a second", 3 * week, monday + 2*week, []durationID{{259200, 0}, {345600, 1}, {259200, 0}, {345600, 1}, {1, 0}}},
		{"weekly period", week, monday + 2*week, []durationID{{259200, 0}, {345600, 1}, {259200, 0}, {345600, 1}, {1, 0}}},
		{"three weeks", 3 * week, monday + 3*week - 1, []durationID{
			{259200, 0}, {345600, 1}, {259200, 0}, {345600, 1}, {259200, 0}, {345600, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := partitioned(t, tt.period, tt.end)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("slot durations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
