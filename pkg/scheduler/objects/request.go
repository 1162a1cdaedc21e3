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

package objects

import (
	"fmt"
	"strings"

	"github.com/kao-sched/kao-core/pkg/hierarchy"
)

// LevelCount asks for Count groups of a hierarchy level.
type LevelCount struct {
	Level string `yaml:"level" json:"level"`
	Count int    `yaml:"count" json:"count"`
}

func (lc LevelCount) String() string {
	return fmt.Sprintf("%s=%d", lc.Level, lc.Count)
}

// Branch is one way of satisfying a request: every level count at once, within the
// resources matching the properties.
type Branch struct {
	Levels     []LevelCount            `yaml:"levels" json:"levels"`
	Properties hierarchy.PropertyMatch `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Predicate returns the eligibility predicate, nil when every resource is eligible.
func (b Branch) Predicate() hierarchy.Predicate {
	if len(b.Properties) == 0 {
		return nil
	}
	return b.Properties
}

func (b Branch) LevelNames() []string {
	names := make([]string, len(b.Levels))
	for i, lc := range b.Levels {
		names[i] = lc.Level
	}
	return names
}

func (b Branch) Counts() []int {
	counts := make([]int, len(b.Levels))
	for i, lc := range b.Levels {
		counts[i] = lc.Count
	}
	return counts
}

// Count returns the count asked for a level, 0 when the level is not part of the branch.
func (b Branch) Count(level string) int {
	for _, lc := range b.Levels {
		if lc.Level == level {
			return lc.Count
		}
	}
	return 0
}

func (b Branch) String() string {
	parts := make([]string, len(b.Levels))
	for i, lc := range b.Levels {
		parts[i] = lc.String()
	}
	str := "/" + strings.Join(parts, "/")
	if len(b.Properties) > 0 {
		str += " {" + b.Properties.String() + "}"
	}
	return str
}

func (b Branch) validate(h *hierarchy.Hierarchy) error {
	if len(b.Levels) == 0 {
		return fmt.Errorf("empty branch")
	}
	order := make(map[string]int)
	for i, name := range h.Levels() {
		order[name] = i
	}
	previous := -1
	for _, lc := range b.Levels {
		pos, ok := order[lc.Level]
		if !ok {
			return fmt.Errorf("unknown resource level %q", lc.Level)
		}
		if pos <= previous {
			return fmt.Errorf("level %q is not finer than the previous level", lc.Level)
		}
		if lc.Count <= 0 {
			return fmt.Errorf("level %q count must be positive, got %d", lc.Level, lc.Count)
		}
		previous = pos
	}
	return nil
}

// Request is a resource demand made of alternative branches, tried in order.
type Request struct {
	Branches []Branch `yaml:"branches" json:"branches"`
}

func (r Request) String() string {
	parts := make([]string, len(r.Branches))
	for i, b := range r.Branches {
		parts[i] = b.String()
	}
	return strings.Join(parts, " | ")
}

// Alternative is one moldable shape of a job: a request and how long it runs, in seconds.
type Alternative struct {
	Request  Request `yaml:"request" json:"request"`
	Walltime int64   `yaml:"walltime" json:"walltime"`
}
