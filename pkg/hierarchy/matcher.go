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

	"github.com/kao-sched/kao-core/pkg/common/resources"
)

// FindScattered picks counts[h] groups at every level h of a request inside the available resources.
// levels holds, per requested level coarse to fine, the candidate groups in the order they must be tried.
// The finest level takes groups wholly inside the available set, coarser levels take groups whose
// children can satisfy the rest of the request. The result is all or nothing: an empty set when any
// level comes up short.
func FindScattered(available resources.IntervalSet, levels [][]resources.IntervalSet, counts []int) resources.IntervalSet {
	if len(levels) == 0 || len(levels) != len(counts) || available.IsEmpty() {
		return resources.IntervalSet{}
	}
	m := &matcher{
		levels:   levels,
		counts:   counts,
		children: make([][][]int, len(levels)-1),
	}
	for h := 0; h < len(levels)-1; h++ {
		m.children[h] = childrenOf(levels[h], levels[h+1])
	}
	top := make([]int, len(levels[0]))
	for i := range top {
		top[i] = i
	}
	found, ok := m.find(available, 0, top)
	if !ok {
		return resources.IntervalSet{}
	}
	return found
}

type matcher struct {
	levels [][]resources.IntervalSet
	counts []int
	// children[h][g] lists the groups of levels[h+1] inside levels[h][g], in candidate order
	children [][][]int
}

func (m *matcher) find(available resources.IntervalSet, h int, candidates []int) (resources.IntervalSet, bool) {
	want := m.counts[h]
	if want <= 0 || len(candidates) < want {
		return resources.IntervalSet{}, false
	}
	picked := resources.IntervalSet{}
	got := 0
	last := h == len(m.levels)-1
	for _, idx := range candidates {
		group := m.levels[h][idx]
		if group.IsEmpty() {
			continue
		}
		if last {
			if !group.IsSubset(available) {
				continue
			}
			picked = picked.Union(group)
		} else {
			inside := available.Intersection(group)
			if inside.IsEmpty() {
				continue
			}
			sub, ok := m.find(inside, h+1, m.children[h][idx])
			if !ok {
				continue
			}
			picked = picked.Union(sub)
		}
		got++
		if got == want {
			return picked, true
		}
	}
	return resources.IntervalSet{}, false
}

// childrenOf maps every fine group to the coarse group holding its smallest id.
func childrenOf(coarse, fine []resources.IntervalSet) [][]int {
	var segments []segment
	for idx, group := range coarse {
		for _, itv := range group.Intervals() {
			segments = append(segments, segment{low: itv.Low, high: itv.High, group: idx})
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].low < segments[j].low
	})
	out := make([][]int, len(coarse))
	for idx, group := range fine {
		first, ok := group.Min()
		if !ok {
			continue
		}
		i := sort.Search(len(segments), func(i int) bool {
			return segments[i].high >= first
		})
		if i < len(segments) && segments[i].low <= first && group.IsSubset(coarse[segments[i].group]) {
			parent := segments[i].group
			out[parent] = append(out[parent], idx)
		}
	}
	return out
}
