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
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/log"
)

// Options of the calendar built from a rules document.
type Options struct {
	Period   int64
	Location *time.Location
}

// Quotas is one immutable quotas configuration: the calendar and the rule sets it names.
// A Quotas is never modified once built, reconfiguration builds a new one.
type Quotas struct {
	enabled  bool
	calendar *Calendar
	// rule sets indexed by calendar rule set id
	ruleSets []RuleSet
	defaults RuleSet
}

// Disabled returns quotas that accept every job.
func Disabled() *Quotas {
	return &Quotas{}
}

// New builds enabled quotas. Every rule set named by the calendar must be defined; the
// "quotas" rule set applies where no calendar rule is active. Overlapping calendar rules
// are a ConfigurationError.
func New(cfg RulesConfig, opts Options) (*Quotas, error) {
	q := &Quotas{enabled: true}
	named := make(map[string]RuleSet, len(cfg.RuleSets))
	names := make([]string, 0, len(cfg.RuleSets))
	for name := range cfg.RuleSets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rs, err := ParseRuleSet(name, cfg.RuleSets[name])
		if err != nil {
			return nil, common.NewConfigurationError("quotas", -1, "rule set %q: %v", name, err)
		}
		named[name] = rs
	}
	q.defaults = named[DefaultRuleSet]
	q.defaults.Name = DefaultRuleSet

	rules, err := cfg.CalendarRules()
	if err != nil {
		return nil, common.NewConfigurationError("calendar", -1, "%v", err)
	}
	if rules.IsEmpty() {
		return q, nil
	}
	calendar, err := ParseCalendar(rules, opts.Period, opts.Location)
	if err != nil {
		return nil, err
	}
	if valid, index := calendar.Check(); !valid {
		return nil, common.NewConfigurationError("calendar", index, "rule overlaps a rule of another rule set")
	}
	for _, name := range calendar.RuleSetNames() {
		rs, ok := named[name]
		if !ok {
			return nil, common.NewConfigurationError("calendar", -1, "rule set %q is not defined", name)
		}
		q.ruleSets = append(q.ruleSets, rs)
	}
	q.calendar = calendar
	return q, nil
}

func (q *Quotas) Enabled() bool {
	return q != nil && q.enabled
}

// Temporal reports whether a calendar subdivides the horizon.
func (q *Quotas) Temporal() bool {
	return q.Enabled() && q.calendar != nil
}

func (q *Quotas) Calendar() *Calendar {
	if q == nil {
		return nil
	}
	return q.calendar
}

// RuleSet returns the rule set of a calendar id, the default rule set for NoRule.
func (q *Quotas) RuleSet(id int) RuleSet {
	if id >= 0 && id < len(q.ruleSets) {
		return q.ruleSets[id]
	}
	return q.defaults
}

func (q *Quotas) RuleSetName(id int) string {
	return q.RuleSet(id).Name
}

// Check reports whether a job of nbResources units running duration seconds fits the rule set
// of ruleID on top of usage. When it does not, the reason names the exhausted rule.
func (q *Quotas) Check(ruleID int, usage Usage, c Consumer, nbResources int, duration int64) (bool, string) {
	if !q.Enabled() {
		return true, ""
	}
	rs := q.RuleSet(ruleID)
	hours := resourceHours(nbResources, duration)
	for _, rule := range rs.Rules {
		for _, key := range rule.keysFor(c) {
			current := usage[key]
			if rule.MaxResources != Unlimited && current.Resources+nbResources > rule.MaxResources {
				return false, fmt.Sprintf("%s/%s: resources %d > %d", rs.Name, rule, current.Resources+nbResources, rule.MaxResources)
			}
			if rule.MaxJobs != Unlimited && current.Jobs+1 > rule.MaxJobs {
				return false, fmt.Sprintf("%s/%s: jobs %d > %d", rs.Name, rule, current.Jobs+1, rule.MaxJobs)
			}
			if rule.MaxResourceHours != Unlimited && current.ResourceHours+hours > rule.MaxResourceHours {
				return false, fmt.Sprintf("%s/%s: resource hours %.2f > %.2f", rs.Name, rule, current.ResourceHours+hours, rule.MaxResourceHours)
			}
		}
	}
	log.Log(log.Quotas).Debug("quotas fit",
		zap.String("ruleSet", rs.Name),
		zap.String("user", c.User),
		zap.Int("resources", nbResources))
	return true, ""
}

// keysFor returns the usage counters the rule limits for a consumer, none when it does not apply.
func (r Rule) keysFor(c Consumer) []Key {
	queue, ok := resolve(r.Queue, c.Queue)
	if !ok {
		return nil
	}
	project, ok := resolve(r.Project, c.Project)
	if !ok {
		return nil
	}
	user, ok := resolve(r.User, c.User)
	if !ok {
		return nil
	}
	var types []string
	switch r.JobType {
	case Aggregate:
		types = []string{Aggregate}
	case PerValue:
		types = c.jobTypes()
	default:
		if c.hasType(r.JobType) {
			types = []string{r.JobType}
		}
	}
	keys := make([]Key, 0, len(types))
	for _, t := range types {
		keys = append(keys, Key{Queue: queue, Project: project, JobType: t, User: user})
	}
	return keys
}

func resolve(pattern, value string) (string, bool) {
	switch pattern {
	case Aggregate:
		return Aggregate, true
	case PerValue:
		return value, true
	default:
		return value, pattern == value
	}
}
