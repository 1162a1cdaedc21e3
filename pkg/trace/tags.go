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

package trace

import (
	"github.com/opentracing/opentracing-go"
)

// Span operations and tag keys.
const (
	PassOperation = "pass"
	JobOperation  = "job"

	PassIDKey   = "pass.id"
	BeginKey    = "pass.begin"
	EndKey      = "pass.end"
	JobsKey     = "pass.jobs"
	SlotsKey    = "pass.slots"
	JobIDKey    = "job.id"
	PolicyKey   = "job.policy"
	OutcomeKey  = "job.outcome"
	ReasonKey   = "job.reason"
	StartKey    = "job.start"
	ResourceKey = "job.resources"
)

// TagsBuilder builds the common tags of a span.
type TagsBuilder interface {
	Build() map[string]interface{}
}

func SetTags(span opentracing.Span, builder TagsBuilder) {
	for k, v := range builder.Build() {
		span.SetTag(k, v)
	}
}

type PassTags struct {
	ID    string
	Begin int64
	End   int64
	Jobs  int
}

func (p PassTags) Build() map[string]interface{} {
	return map[string]interface{}{
		PassIDKey: p.ID,
		BeginKey:  p.Begin,
		EndKey:    p.End,
		JobsKey:   p.Jobs,
	}
}

type JobTags struct {
	JobID   string
	Policy  string
	Outcome string
	Reason  string
}

func (j JobTags) Build() map[string]interface{} {
	tags := map[string]interface{}{
		JobIDKey:   j.JobID,
		OutcomeKey: j.Outcome,
	}
	if j.Policy != "" {
		tags[PolicyKey] = j.Policy
	}
	if j.Reason != "" {
		tags[ReasonKey] = j.Reason
	}
	return tags
}
