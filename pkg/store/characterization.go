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

package store

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

type classTally struct {
	counts [3]int
	// position of the most recent assignment of each class, lower is more recent
	latest [3]int
	seen   int
}

func (t *classTally) add(class objects.Class, position int) {
	if t.counts[class] == 0 {
		t.latest[class] = position
	}
	t.counts[class]++
	t.seen++
}

// class returns the most frequent class, the most recent one on a tie.
func (t *classTally) class() objects.Class {
	best := objects.Neutral
	found := false
	for c := objects.Unfriendly; c <= objects.Neutral; c++ {
		if t.counts[c] == 0 {
			continue
		}
		if !found || t.counts[c] > t.counts[best] || (t.counts[c] == t.counts[best] && t.latest[c] < t.latest[best]) {
			best = c
			found = true
		}
	}
	return best
}

// NodeCharacterization classifies every node from the classes of the last depth assignments that
// used it, running or finished. Nodes are keyed by the value of their nodeLevel attribute, nodes
// without any assignment are left out.
func (sn *Snapshot) NodeCharacterization(nodeLevel string, depth int) (map[string]objects.Class, error) {
	if depth <= 0 {
		return nil, errors.Errorf("characterization depth must be positive, got %d", depth)
	}
	inventory, err := sn.Inventory()
	if err != nil {
		return nil, err
	}
	nodeOf := make(map[resources.ResourceID]string, len(inventory))
	for _, res := range inventory {
		if node, ok := res.Attributes[nodeLevel]; ok {
			nodeOf[res.ID] = node
		}
	}
	history, err := sn.recentAssignments()
	if err != nil {
		return nil, err
	}
	tallies := make(map[string]*classTally)
	for position, a := range history {
		class := objects.ClassFromString(a.Class)
		nodes := make(map[string]bool)
		for _, id := range a.Resources.IDs() {
			if node, ok := nodeOf[id]; ok {
				nodes[node] = true
			}
		}
		for node := range nodes {
			tally, ok := tallies[node]
			if !ok {
				tally = &classTally{}
				tallies[node] = tally
			}
			if tally.seen < depth {
				tally.add(class, position)
			}
		}
	}
	out := make(map[string]objects.Class, len(tallies))
	for node, tally := range tallies {
		out[node] = tally.class()
	}
	return out, nil
}

// recentAssignments returns running and finished assignments, most recent start first.
func (sn *Snapshot) recentAssignments() ([]*objects.Assignment, error) {
	var out []*objects.Assignment
	for _, table := range []string{assignmentsTable, historyTable} {
		it, err := sn.txn.GetReverse(table, beginIndex)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			out = append(out, obj.(*objects.Assignment))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Begin != out[j].Begin {
			return out[i].Begin > out[j].Begin
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}
