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

package hierarchy

import (
	"sort"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/log"
)

// ResourceIDLevel is the implicit finest level: one group per resource id.
const ResourceIDLevel = "resource_id"

// Resource is one entry of the inventory snapshot: an id plus its attributes.
// Level membership is read from the attribute named after the level.
type Resource struct {
	ID         resources.ResourceID `yaml:"id"`
	Attributes map[string]string    `yaml:"attributes"`
}

type segment struct {
	low   resources.ResourceID
	high  resources.ResourceID
	group int
}

// Level is a named partition of all resources into disjoint groups, ordered by smallest id.
type Level struct {
	Name     string
	Groups   []resources.IntervalSet
	Values   []string
	segments []segment
}

func newLevel(name string, groups []resources.IntervalSet, values []string) *Level {
	l := &Level{
		Name:   name,
		Groups: groups,
		Values: values,
	}
	for idx, group := range groups {
		for _, itv := range group.Intervals() {
			l.segments = append(l.segments, segment{low: itv.Low, high: itv.High, group: idx})
		}
	}
	sort.Slice(l.segments, func(i, j int) bool {
		return l.segments[i].low < l.segments[j].low
	})
	return l
}

// GroupOf returns the index of the group holding id, binary search over the group boundaries.
func (l *Level) GroupOf(id resources.ResourceID) (int, bool) {
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].high >= id
	})
	if i < len(l.segments) && l.segments[i].low <= id {
		return l.segments[i].group, true
	}
	return -1, false
}

// Hierarchy groups the resource ids of one inventory snapshot by nesting level.
// It is built once per pass and read only afterwards.
type Hierarchy struct {
	order      []string
	levels     map[string]*Level
	all        resources.IntervalSet
	attributes map[resources.ResourceID]map[string]string
	// parents[level][group][k] is the group index at order[k] holding the group, for every k up to the level itself
	parents map[string][][]int
}

// Build creates the hierarchy for the configured levels, coarse to fine.
// A topology where a finer group is not wholly inside one group of every coarser level is rejected.
func Build(inventory []Resource, levels []string) (*Hierarchy, error) {
	order, err := levelOrder(levels)
	if err != nil {
		return nil, err
	}
	sorted := make([]Resource, len(inventory))
	copy(sorted, inventory)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	h := &Hierarchy{
		order:      order,
		levels:     make(map[string]*Level, len(order)),
		attributes: make(map[resources.ResourceID]map[string]string, len(sorted)),
		parents:    make(map[string][][]int, len(order)),
	}
	ids := make([]resources.ResourceID, 0, len(sorted))
	for i, res := range sorted {
		if i > 0 && sorted[i-1].ID == res.ID {
			return nil, common.NewConfigurationError("hierarchy", -1, "duplicate resource id %d", res.ID)
		}
		ids = append(ids, res.ID)
		h.attributes[res.ID] = res.Attributes
	}
	h.all = resources.FromIDs(ids...)

	for _, name := range order {
		level, err := groupLevel(name, sorted)
		if err != nil {
			return nil, err
		}
		h.levels[name] = level
	}
	if err = h.linkParents(); err != nil {
		return nil, err
	}
	log.Log(log.Hierarchy).Debug("hierarchy built",
		zap.Strings("levels", order),
		zap.Int("resources", len(sorted)))
	return h, nil
}

func levelOrder(levels []string) ([]string, error) {
	seen := make(map[string]bool, len(levels)+1)
	order := make([]string, 0, len(levels)+1)
	for i, name := range levels {
		if name == "" {
			return nil, common.NewConfigurationError("hierarchy", i, "empty level name")
		}
		if seen[name] {
			return nil, common.NewConfigurationError("hierarchy", i, "duplicate level %q", name)
		}
		if name == ResourceIDLevel && i != len(levels)-1 {
			return nil, common.NewConfigurationError("hierarchy", i, "level %q must be the finest level", name)
		}
		seen[name] = true
		order = append(order, name)
	}
	if !seen[ResourceIDLevel] {
		order = append(order, ResourceIDLevel)
	}
	return order, nil
}

func groupLevel(name string, sorted []Resource) (*Level, error) {
	if name == ResourceIDLevel {
		groups := make([]resources.IntervalSet, len(sorted))
		values := make([]string, len(sorted))
		for i, res := range sorted {
			groups[i] = resources.FromIDs(res.ID)
			values[i] = resources.FromIDs(res.ID).String()
		}
		return newLevel(name, groups, values), nil
	}
	members := make(map[string][]resources.ResourceID)
	var values []string
	for _, res := range sorted {
		value, ok := res.Attributes[name]
		if !ok || value == "" {
			return nil, common.NewConfigurationError("hierarchy", -1, "resource %d has no value for level %q", res.ID, name)
		}
		if _, ok = members[value]; !ok {
			// first occurrence in id order keeps groups sorted by smallest id
			values = append(values, value)
		}
		members[value] = append(members[value], res.ID)
	}
	groups := make([]resources.IntervalSet, len(values))
	for i, value := range values {
		groups[i] = resources.FromIDs(members[value]...)
	}
	return newLevel(name, groups, values), nil
}

func (h *Hierarchy) linkParents() error {
	for fine, name := range h.order {
		level := h.levels[name]
		links := make([][]int, len(level.Groups))
		for g, group := range level.Groups {
			links[g] = make([]int, fine+1)
			first, _ := group.Min()
			for coarse := 0; coarse < fine; coarse++ {
				parentLevel := h.levels[h.order[coarse]]
				parent, ok := parentLevel.GroupOf(first)
				if !ok || !group.IsSubset(parentLevel.Groups[parent]) {
					return common.NewConfigurationError("hierarchy", -1,
						"group %q of level %q spans several groups of level %q",
						level.Values[g], name, parentLevel.Name)
				}
				links[g][coarse] = parent
			}
			links[g][fine] = g
		}
		h.parents[name] = links
	}
	return nil
}

// Levels returns the level names coarse to fine, including the implicit resource id level.
func (h *Hierarchy) Levels() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

func (h *Hierarchy) HasLevel(name string) bool {
	_, ok := h.levels[name]
	return ok
}

func (h *Hierarchy) Level(name string) (*Level, bool) {
	level, ok := h.levels[name]
	return level, ok
}

// Groups returns the ordered groups of a level, nil for an unknown level.
func (h *Hierarchy) Groups(name string) []resources.IntervalSet {
	if level, ok := h.levels[name]; ok {
		return level.Groups
	}
	return nil
}

// All returns every resource of the snapshot.
func (h *Hierarchy) All() resources.IntervalSet {
	return h.all
}

// GroupOf returns the index of the group of a level that holds the id.
func (h *Hierarchy) GroupOf(level string, id resources.ResourceID) (int, bool) {
	l, ok := h.levels[level]
	if !ok {
		return -1, false
	}
	return l.GroupOf(id)
}

// Path returns the groups holding a group of a level, coarse to fine, ending with the group itself.
func (h *Hierarchy) Path(level string, group int) []resources.IntervalSet {
	links, ok := h.parents[level]
	if !ok || group < 0 || group >= len(links) {
		return nil
	}
	path := make([]resources.IntervalSet, len(links[group]))
	for k, idx := range links[group] {
		path[k] = h.levels[h.order[k]].Groups[idx]
	}
	return path
}

// Ancestor returns the index of the group of level coarse that holds a group of level fine.
func (h *Hierarchy) Ancestor(fine string, group int, coarse string) (int, bool) {
	links, ok := h.parents[fine]
	if !ok || group < 0 || group >= len(links) {
		return -1, false
	}
	for k, name := range h.order {
		if k >= len(links[group]) {
			break
		}
		if name == coarse {
			return links[group][k], true
		}
	}
	return -1, false
}

// Attributes returns the attributes of a resource.
func (h *Hierarchy) Attributes(id resources.ResourceID) map[string]string {
	return h.attributes[id]
}

// Eligible evaluates a predicate over every resource; a nil predicate selects everything.
func (h *Hierarchy) Eligible(predicate Predicate) resources.IntervalSet {
	if predicate == nil {
		return h.all
	}
	var ids []resources.ResourceID
	for _, id := range h.all.IDs() {
		if predicate.Match(h.attributes[id]) {
			ids = append(ids, id)
		}
	}
	return resources.FromIDs(ids...)
}
