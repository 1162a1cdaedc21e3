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
	"strconv"
	"testing"

	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

func testHierarchy(t *testing.T) *hierarchy.Hierarchy {
	var inv []hierarchy.Resource
	for id := 1; id <= 16; id++ {
		inv = append(inv, hierarchy.Resource{
			ID: resources.ResourceID(id),
			Attributes: map[string]string{
				"network_address": fmt.Sprintf("node-%d", (id-1)/8+1),
				"cpu":             strconv.Itoa((id-1)/4 + 1),
				"core":            strconv.Itoa(id),
			},
		})
	}
	h, err := hierarchy.Build(inv, []string{"network_address", "cpu", "core"})
	assert.NilError(t, err)
	return h
}

func singleBranch(walltime int64, levels ...LevelCount) Alternative {
	return Alternative{
		Request:  Request{Branches: []Branch{{Levels: levels}}},
		Walltime: walltime,
	}
}

func TestJobValidate(t *testing.T) {
	h := testHierarchy(t)
	tests := map[string]struct {
		alternatives []Alternative
		message      string
	}{
		"valid": {
			alternatives: []Alternative{singleBranch(60, LevelCount{"network_address", 1}, LevelCount{"core", 2})},
		},
		"resource id level": {
			alternatives: []Alternative{singleBranch(60, LevelCount{hierarchy.ResourceIDLevel, 3})},
		},
		"no alternative": {
			message: "no resource request",
		},
		"no branch": {
			alternatives: []Alternative{{Walltime: 60}},
			message:      "alternative 0: no resource branch",
		},
		"walltime": {
			alternatives: []Alternative{singleBranch(0, LevelCount{"core", 2})},
			message:      "alternative 0: walltime must be positive, got 0",
		},
		"unknown level": {
			alternatives: []Alternative{
				singleBranch(60, LevelCount{"core", 2}),
				singleBranch(60, LevelCount{"switch", 1}),
			},
			message: "alternative 1 branch 0: unknown resource level \"switch\"",
		},
		"order": {
			alternatives: []Alternative{singleBranch(60, LevelCount{"core", 2}, LevelCount{"cpu", 1})},
			message:      "alternative 0 branch 0: level \"cpu\" is not finer than the previous level",
		},
		"count": {
			alternatives: []Alternative{singleBranch(60, LevelCount{"cpu", 0})},
			message:      "alternative 0 branch 0: level \"cpu\" count must be positive, got 0",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			job := &Job{ID: "job-1", Alternatives: tt.alternatives}
			err := job.Validate(h)
			if tt.message == "" {
				assert.NilError(t, err)
				return
			}
			assert.Assert(t, common.IsRequestError(err), "expected a request error: %v", err)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestJobTypes(t *testing.T) {
	job := &Job{
		ID:      "job-1",
		Queue:   "default",
		Project: "projA",
		User:    "john",
		Types:   []string{"find=spread", "exclusive", "class=Unfriendly"},
	}
	value, ok := job.TypeValue(TypeFind)
	assert.Assert(t, ok)
	assert.Equal(t, value, "spread")
	_, ok = job.TypeValue("timesharing")
	assert.Assert(t, !ok)
	assert.Assert(t, job.HasType(TypeExclusive))
	assert.Assert(t, !job.HasType("besteffort"))
	assert.Equal(t, job.Class(), Unfriendly)
	assert.DeepEqual(t, job.Consumer(), quotas.Consumer{
		Queue:   "default",
		Project: "projA",
		User:    "john",
		Types:   []string{"find=spread", "exclusive", "class=Unfriendly"},
	})

	assert.Equal(t, (&Job{}).Class(), Neutral)
	assert.Equal(t, ClassFromString("friendly"), Friendly)
	assert.Equal(t, ClassFromString("other"), Neutral)
	assert.Equal(t, Neutral.String(), "neutral")
}

func TestAssignment(t *testing.T) {
	job := &Job{ID: "job-2", Queue: "default", User: "jane", Types: []string{"class=friendly"}}
	a := NewAssignment(job, 100, 50, resources.Range(1, 4))
	assert.Equal(t, a.End, int64(149))
	assert.Equal(t, a.Duration(), int64(50))
	assert.Equal(t, a.Class, "friendly")
	assert.Assert(t, a.Overlaps(149, 200))
	assert.Assert(t, a.Overlaps(0, 100))
	assert.Assert(t, !a.Overlaps(150, 200))
	assert.Assert(t, !a.Overlaps(0, 99))
	assert.Equal(t, a.Consumer().User, "jane")
}

func TestJobYAML(t *testing.T) {
	data := `
id: job-3
queue: default
user: john
types: [find=compact]
alternatives:
  - walltime: 3600
    request:
      branches:
        - levels:
            - {level: network_address, count: 2}
            - {level: core, count: 4}
          properties:
            gpu: ["true"]
        - levels:
            - {level: core, count: 8}
`
	var job Job
	assert.NilError(t, yaml.Unmarshal([]byte(data), &job))
	assert.Equal(t, len(job.Alternatives), 1)
	req := job.Alternatives[0].Request
	assert.Equal(t, req.String(), "/network_address=2/core=4 {gpu IN (true)} | /core=8")
	assert.DeepEqual(t, req.Branches[0].LevelNames(), []string{"network_address", "core"})
	assert.DeepEqual(t, req.Branches[0].Counts(), []int{2, 4})
	assert.Equal(t, req.Branches[0].Count("core"), 4)
	assert.Equal(t, req.Branches[0].Count("cpu"), 0)
	assert.Assert(t, req.Branches[0].Predicate() != nil)
	assert.Assert(t, req.Branches[1].Predicate() == nil)
	assert.NilError(t, job.Validate(testHierarchy(t)))

	a := NewAssignment(&job, 0, 10, resources.Range(3, 6))
	out, err := yaml.Marshal(a)
	assert.NilError(t, err)
	var back Assignment
	assert.NilError(t, yaml.Unmarshal(out, &back))
	assert.Assert(t, back.Resources.Equal(resources.Range(3, 6)))
}
