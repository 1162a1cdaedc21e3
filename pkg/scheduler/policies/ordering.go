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

package policies

import (
	"github.com/google/btree"

	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

const orderDegree = 8

// ordering is the direction of a group ordering key.
// Keys are compared on the occupancy vector, then the weight (highest first) when weighted,
// then the group index which makes the order total.
type ordering struct {
	occupancyDesc bool
	indexDesc     bool
	weighted      bool
}

type groupRef struct {
	index     int
	occupancy []int
	weight    float64
	order     *ordering
}

func (g groupRef) Less(than btree.Item) bool {
	o := than.(groupRef)
	for k := 0; k < len(g.occupancy) && k < len(o.occupancy); k++ {
		if g.occupancy[k] != o.occupancy[k] {
			if g.order.occupancyDesc {
				return g.occupancy[k] > o.occupancy[k]
			}
			return g.occupancy[k] < o.occupancy[k]
		}
	}
	if g.order.weighted && g.weight != o.weight {
		return g.weight > o.weight
	}
	if g.order.indexDesc {
		return g.index > o.index
	}
	return g.index < o.index
}

// occupancy counts, per group of a level, the eligible resources not available in the slot.
type occupancy struct {
	h         *hierarchy.Hierarchy
	eligible  resources.IntervalSet
	available resources.IntervalSet
	used      map[string][]int
}

func newOccupancy(h *hierarchy.Hierarchy, eligible, available resources.IntervalSet) *occupancy {
	return &occupancy{
		h:         h,
		eligible:  eligible,
		available: available,
		used:      make(map[string][]int),
	}
}

func (o *occupancy) of(level string, group int) int {
	counts, ok := o.used[level]
	if !ok {
		groups := o.h.Groups(level)
		counts = make([]int, len(groups))
		for i := range counts {
			counts[i] = -1
		}
		o.used[level] = counts
	}
	if counts[group] < 0 {
		g := o.h.Groups(level)[group]
		counts[group] = g.Intersection(o.eligible).Len() - g.Intersection(o.available).Len()
	}
	return counts[group]
}

// vector is the occupancy of every group holding a group of a level, coarse to fine, ending with the group.
func (o *occupancy) vector(level string, group int) []int {
	var vec []int
	for _, name := range o.h.Levels() {
		ancestor, ok := o.h.Ancestor(level, group, name)
		if !ok {
			break
		}
		vec = append(vec, o.of(name, ancestor))
		if name == level {
			break
		}
	}
	return vec
}

// weigher returns the characterization weight of a group of a level.
type weigher func(level string, group int) float64

func classWeigher(ctx *Context, classes map[string]objects.Class) weigher {
	nodeLevel, ok := ctx.Hierarchy.Level(ctx.Options.NodeLevel)
	neutral := ctx.Options.Weights[objects.Neutral]
	return func(level string, group int) float64 {
		if !ok {
			return neutral
		}
		node, found := ctx.Hierarchy.Ancestor(level, group, ctx.Options.NodeLevel)
		if !found {
			return neutral
		}
		class, known := classes[nodeLevel.Values[node]]
		if !known {
			return neutral
		}
		return ctx.Options.Weights[class]
	}
}

// orderGroups returns the groups of a level that intersect the search set, in key order.
func orderGroups(h *hierarchy.Hierarchy, level string, search resources.IntervalSet, occ *occupancy, order *ordering, weight weigher) []resources.IntervalSet {
	groups := h.Groups(level)
	tree := btree.New(orderDegree)
	for idx, group := range groups {
		if !group.Intersects(search) {
			continue
		}
		ref := groupRef{
			index:     idx,
			occupancy: occ.vector(level, idx),
			order:     order,
		}
		if weight != nil {
			ref.weight = weight(level, idx)
		}
		tree.ReplaceOrInsert(ref)
	}
	ordered := make([]resources.IntervalSet, 0, tree.Len())
	tree.Ascend(func(item btree.Item) bool {
		ordered = append(ordered, groups[item.(groupRef).index])
		return true
	})
	return ordered
}
