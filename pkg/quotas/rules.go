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
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Unlimited disables one limit of a rule.
	Unlimited = -1
	// Aggregate counts every value of a field together.
	Aggregate = "*"
	// PerValue counts every value of a field on its own.
	PerValue = "/"
	// DefaultRuleSet is the rule set applied where no calendar rule is active.
	DefaultRuleSet = "quotas"
)

// Limits of a rule: concurrent resource units, concurrent jobs and resource hours.
type Limits struct {
	MaxResources     int
	MaxJobs          int
	MaxResourceHours float64
}

// Rule limits the consumers matching its queue, project, job type and user fields.
// A field is a value, Aggregate or PerValue.
type Rule struct {
	Queue   string
	Project string
	JobType string
	User    string
	Limits
}

func (r Rule) String() string {
	return strings.Join([]string{r.Queue, r.Project, r.JobType, r.User}, ",")
}

// RuleSet is a named table of rules, sorted by pattern.
type RuleSet struct {
	Name  string
	Rules []Rule
}

// ParseRuleSet reads "queue,project,job_type,user" -> [maxResources, maxJobs, maxResourceHours] entries.
func ParseRuleSet(name string, entries map[string][]float64) (RuleSet, error) {
	rs := RuleSet{Name: name}
	for pattern, values := range entries {
		fields := strings.Split(pattern, ",")
		if len(fields) != 4 {
			return RuleSet{}, fmt.Errorf("rule %q: expected queue,project,job_type,user", pattern)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
			if fields[i] == "" {
				return RuleSet{}, fmt.Errorf("rule %q: empty field", pattern)
			}
		}
		if len(values) != 3 {
			return RuleSet{}, fmt.Errorf("rule %q: expected 3 limits, got %d", pattern, len(values))
		}
		limits := Limits{
			MaxResources:     int(values[0]),
			MaxJobs:          int(values[1]),
			MaxResourceHours: values[2],
		}
		if limits.MaxResources < Unlimited || limits.MaxJobs < Unlimited || limits.MaxResourceHours < Unlimited {
			return RuleSet{}, fmt.Errorf("rule %q: negative limit", pattern)
		}
		rs.Rules = append(rs.Rules, Rule{
			Queue:   fields[0],
			Project: fields[1],
			JobType: fields[2],
			User:    fields[3],
			Limits:  limits,
		})
	}
	sort.Slice(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].String() < rs.Rules[j].String()
	})
	return rs, nil
}

// RulesConfig is the quotas rules document: the calendar under "periodical" and "oneshot",
// every other key a rule set. JSON files of the same layout are accepted.
type RulesConfig struct {
	Periodical [][]string
	Oneshot    [][]string
	RuleSets   map[string]map[string][]float64
}

func (r *RulesConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: quotas rules must be a mapping", node.Line)
	}
	r.RuleSets = make(map[string]map[string][]float64)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		var err error
		switch key {
		case "periodical":
			err = value.Decode(&r.Periodical)
		case "oneshot":
			err = value.Decode(&r.Oneshot)
		default:
			entries := make(map[string][]float64)
			err = value.Decode(&entries)
			r.RuleSets[key] = entries
		}
		if err != nil {
			return fmt.Errorf("quotas rules %q: %w", key, err)
		}
	}
	return nil
}

func (r RulesConfig) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(r.RuleSets)+2)
	if len(r.Periodical) > 0 {
		out["periodical"] = r.Periodical
	}
	if len(r.Oneshot) > 0 {
		out["oneshot"] = r.Oneshot
	}
	for name, entries := range r.RuleSets {
		out[name] = entries
	}
	return out, nil
}

func (r RulesConfig) IsEmpty() bool {
	return len(r.Periodical) == 0 && len(r.Oneshot) == 0 && len(r.RuleSets) == 0
}

// CalendarRules converts the calendar entries; the description element is optional.
func (r RulesConfig) CalendarRules() (CalendarRules, error) {
	var rules CalendarRules
	for i, entry := range r.Periodical {
		if len(entry) < 2 || len(entry) > 3 {
			return rules, fmt.Errorf("periodical entry %d: expected [pattern, rule set, description]", i)
		}
		rule := PeriodicalRule{Pattern: entry[0], RuleSet: entry[1]}
		if len(entry) == 3 {
			rule.Description = entry[2]
		}
		rules.Periodical = append(rules.Periodical, rule)
	}
	for i, entry := range r.Oneshot {
		if len(entry) < 3 || len(entry) > 4 {
			return rules, fmt.Errorf("oneshot entry %d: expected [start, end, rule set, description]", i)
		}
		rule := OneshotRule{Start: entry[0], End: entry[1], RuleSet: entry[2]}
		if len(entry) == 4 {
			rule.Description = entry[3]
		}
		rules.Oneshot = append(rules.Oneshot, rule)
	}
	return rules, nil
}
