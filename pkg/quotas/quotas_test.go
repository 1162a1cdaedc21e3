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
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/kao-sched/kao-core/pkg/common"
)

func simpleConfig() RulesConfig {
	return RulesConfig{
		Periodical: [][]string{
			{"* mon-wed * *", "quotas_1", "test1"},
			{"* thu-sun * *", "quotas_2", "test2"},
		},
		RuleSets: map[string]map[string][]float64{
			"quotas_1": {
				"*,*,*,john":  {10, -1, -1},
				"*,projA,*,*": {20, -1, -1},
			},
			"quotas_2": {
				"*,*,*,lili":  {20, -1, -1},
				"*,projB,*,*": {15, -1, -1},
			},
			"quotas": {
				"/,*,*,*":          {-1, 1, -1},
				"*,*,besteffort,*": {-1, -1, 10},
			},
		},
	}
}

var utc = Options{Period: 3 * 7 * 86400, Location: time.UTC}

func TestNewQuotas(t *testing.T) {
	q, err := New(simpleConfig(), utc)
	assert.NilError(t, err)
	assert.Assert(t, q.Enabled())
	assert.Assert(t, q.Temporal())
	assert.Equal(t, "quotas_1", q.RuleSetName(0))
	assert.Equal(t, "quotas_2", q.RuleSetName(1))
	assert.Equal(t, DefaultRuleSet, q.RuleSetName(NoRule))
	assert.Equal(t, 2, len(q.RuleSet(NoRule).Rules))
	id, remaining := q.Calendar().RulesAt(monday)
	assert.Equal(t, 0, id)
	assert.Equal(t, int64(259200), remaining)

	cfg := simpleConfig()
	cfg.Periodical = nil
	q, err = New(cfg, utc)
	assert.NilError(t, err)
	assert.Assert(t, q.Enabled())
	assert.Assert(t, !q.Temporal())
	assert.Assert(t, q.Calendar() == nil)

	disabled := Disabled()
	assert.Assert(t, !disabled.Enabled())
	assert.Assert(t, !disabled.Temporal())
	var none *Quotas
	assert.Assert(t, !none.Enabled())
}

func TestNewQuotasErrors(t *testing.T) {
	cfg := simpleConfig()
	delete(cfg.RuleSets, "quotas_2")
	_, err := New(cfg, utc)
	assert.Assert(t, common.IsConfigurationError(err))
	assert.ErrorContains(t, err, `rule set "quotas_2" is not defined`)

	cfg = simpleConfig()
	cfg.Periodical = append(cfg.Periodical, []string{"08:00-10:00 mon * *", "quotas_2"})
	_, err = New(cfg, utc)
	assert.Assert(t, common.IsConfigurationError(err))
	assert.ErrorContains(t, err, "at entry 2")

	cfg = simpleConfig()
	cfg.RuleSets["quotas_1"]["*,*"] = []float64{1, 1, 1}
	_, err = New(cfg, utc)
	assert.ErrorContains(t, err, `rule set "quotas_1"`)

	cfg = simpleConfig()
	cfg.Periodical = [][]string{{"* mon * *"}}
	_, err = New(cfg, utc)
	assert.ErrorContains(t, err, "periodical entry 0")
}

func TestQuotasCheck(t *testing.T) {
	q, err := New(simpleConfig(), utc)
	assert.NilError(t, err)
	john := Consumer{Queue: "default", Project: "projX", User: "john"}
	alice := Consumer{Queue: "default", Project: "projA", User: "alice"}
	bob := Consumer{Queue: "besteffort", Project: "projA", User: "bob", Types: []string{"besteffort"}}

	usage := make(Usage)
	ok, _ := q.Check(0, usage, john, 10, 3600)
	assert.Assert(t, ok)
	ok, reason := q.Check(0, usage, john, 11, 3600)
	assert.Assert(t, !ok)
	assert.Equal(t, "quotas_1/*,*,*,john: resources 11 > 10", reason)

	usage.Add(john, 6, 3600)
	ok, _ = q.Check(0, usage, john, 5, 3600)
	assert.Assert(t, !ok)
	ok, _ = q.Check(0, usage, alice, 20, 3600)
	assert.Assert(t, ok, "john's usage does not count for alice")

	usage.Add(alice, 8, 3600)
	ok, _ = q.Check(0, usage, bob, 15, 3600)
	assert.Assert(t, !ok, "projA aggregates alice and bob")
	ok, _ = q.Check(0, usage, bob, 12, 3600)
	assert.Assert(t, ok)
	// quotas_2 does not limit projA
	ok, _ = q.Check(1, usage, bob, 100, 3600)
	assert.Assert(t, ok)
	ok, _ = q.Check(1, usage, Consumer{User: "lili", Project: "projB"}, 16, 3600)
	assert.Assert(t, !ok)
}

func TestQuotasCheckDefaultRuleSet(t *testing.T) {
	q, err := New(simpleConfig(), utc)
	assert.NilError(t, err)
	alice := Consumer{Queue: "default", Project: "projA", User: "alice"}
	bob := Consumer{Queue: "besteffort", Project: "projA", User: "bob", Types: []string{"besteffort"}}

	usage := make(Usage)
	usage.Add(alice, 1, 60)
	// one job per queue
	ok, reason := q.Check(NoRule, usage, alice, 1, 60)
	assert.Assert(t, !ok)
	assert.Equal(t, "quotas//,*,*,*: jobs 2 > 1", reason)
	ok, _ = q.Check(NoRule, usage, bob, 4, 2*3600)
	assert.Assert(t, ok)
	// besteffort jobs share 10 resource hours
	ok, reason = q.Check(NoRule, usage, bob, 4, 3*3600)
	assert.Assert(t, !ok)
	assert.Equal(t, "quotas/*,*,besteffort,*: resource hours 12.00 > 10.00", reason)

	ok, _ = Disabled().Check(NoRule, usage, alice, 1000, 3600)
	assert.Assert(t, ok)
}

func TestUsage(t *testing.T) {
	usage := make(Usage)
	c := Consumer{Queue: "default", Project: "p", User: "u", Types: []string{"x", "y", "x"}}
	usage.Add(c, 4, 1800)
	// queue, project and user with or without aggregation, types x, y and aggregated
	assert.Equal(t, 2*2*3*2, len(usage))
	assert.Equal(t, Counters{Resources: 4, Jobs: 1, ResourceHours: 2}, usage[Key{"*", "*", "*", "*"}])
	assert.Equal(t, Counters{Resources: 4, Jobs: 1, ResourceHours: 2}, usage[Key{"default", "p", "y", "u"}])

	clone := usage.Clone()
	usage.Add(c, 2, 3600)
	assert.Equal(t, Counters{Resources: 6, Jobs: 2, ResourceHours: 4}, usage[Key{"*", "*", "x", "*"}])
	assert.Assert(t, !usage.Equal(clone))
	assert.Equal(t, Counters{Resources: 4, Jobs: 1, ResourceHours: 2}, clone[Key{"*", "*", "x", "*"}])

	usage.Remove(c, 2, 3600)
	assert.Assert(t, usage.Equal(clone))
	usage.Remove(c, 4, 1800)
	assert.Equal(t, 0, len(usage))

	// an aggregated value is not counted twice
	usage.Add(Consumer{Queue: "*", Project: "p", User: "u"}, 1, 0)
	assert.Equal(t, 1*2*1*2, len(usage))
}
