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
	"strings"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

// Job type tags understood by the engine.
const (
	TypeFind      = "find"
	TypeClass     = "class"
	TypeExclusive = "exclusive"
)

// Class of a job, used to characterize the nodes it ran on.
type Class int

const (
	Unfriendly Class = iota
	Friendly
	Neutral
)

func (c Class) String() string {
	return [...]string{"unfriendly", "friendly", "neutral"}[c]
}

// ClassFromString returns the class by name, Neutral for anything unknown.
func ClassFromString(str string) Class {
	switch strings.ToLower(str) {
	case "unfriendly":
		return Unfriendly
	case "friendly":
		return Friendly
	default:
		return Neutral
	}
}

// Job is a pending job as produced by the admission pipeline.
type Job struct {
	ID           string        `yaml:"id" json:"id"`
	Queue        string        `yaml:"queue" json:"queue"`
	Project      string        `yaml:"project" json:"project"`
	User         string        `yaml:"user" json:"user"`
	Types        []string      `yaml:"types,omitempty" json:"types,omitempty"`
	PolicyHint   string        `yaml:"policyHint,omitempty" json:"policyHint,omitempty"`
	Alternatives []Alternative `yaml:"alternatives" json:"alternatives"`
	Submitted    int64         `yaml:"submitted" json:"submitted"`
}

// Consumer returns the quota identity of the job.
func (j *Job) Consumer() quotas.Consumer {
	return quotas.Consumer{
		Queue:   j.Queue,
		Project: j.Project,
		User:    j.User,
		Types:   j.Types,
	}
}

// TypeValue returns the value of a "key=value" type tag.
func (j *Job) TypeValue(key string) (string, bool) {
	prefix := key + "="
	for _, t := range j.Types {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix), true
		}
	}
	return "", false
}

func (j *Job) HasType(name string) bool {
	for _, t := range j.Types {
		if t == name {
			return true
		}
	}
	return false
}

// Class returns the class carried by a "class=..." type tag, Neutral otherwise.
func (j *Job) Class() Class {
	if value, ok := j.TypeValue(TypeClass); ok {
		return ClassFromString(value)
	}
	return Neutral
}

// Validate checks every request of the job against the hierarchy of the pass.
func (j *Job) Validate(h *hierarchy.Hierarchy) error {
	if len(j.Alternatives) == 0 {
		return common.NewRequestError(j.ID, "no resource request")
	}
	for i, alt := range j.Alternatives {
		if alt.Walltime <= 0 {
			return common.NewRequestError(j.ID, "alternative %d: walltime must be positive, got %d", i, alt.Walltime)
		}
		if len(alt.Request.Branches) == 0 {
			return common.NewRequestError(j.ID, "alternative %d: no resource branch", i)
		}
		for k, branch := range alt.Request.Branches {
			if err := branch.validate(h); err != nil {
				return common.NewRequestError(j.ID, "alternative %d branch %d: %v", i, k, err)
			}
		}
	}
	return nil
}

// Assignment is a committed placement: the resources a job holds over [Begin, End].
type Assignment struct {
	JobID     string                `yaml:"jobId" json:"jobId"`
	Queue     string                `yaml:"queue" json:"queue"`
	Project   string                `yaml:"project" json:"project"`
	User      string                `yaml:"user" json:"user"`
	Types     []string              `yaml:"types,omitempty" json:"types,omitempty"`
	Class     string                `yaml:"class,omitempty" json:"class,omitempty"`
	Begin     int64                 `yaml:"begin" json:"begin"`
	End       int64                 `yaml:"end" json:"end"`
	Resources resources.IntervalSet `yaml:"resources" json:"resources"`
}

// NewAssignment places a job on resources from begin for walltime seconds.
func NewAssignment(job *Job, begin, walltime int64, res resources.IntervalSet) *Assignment {
	return &Assignment{
		JobID:     job.ID,
		Queue:     job.Queue,
		Project:   job.Project,
		User:      job.User,
		Types:     job.Types,
		Class:     job.Class().String(),
		Begin:     begin,
		End:       begin + walltime - 1,
		Resources: res,
	}
}

func (a *Assignment) Consumer() quotas.Consumer {
	return quotas.Consumer{
		Queue:   a.Queue,
		Project: a.Project,
		User:    a.User,
		Types:   a.Types,
	}
}

// Duration in seconds, both ends included.
func (a *Assignment) Duration() int64 {
	return a.End - a.Begin + 1
}

// Overlaps reports whether the assignment runs during part of [begin, end].
func (a *Assignment) Overlaps(begin, end int64) bool {
	return a.Begin <= end && a.End >= begin
}
