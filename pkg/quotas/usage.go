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
	"sort"
)

// Consumer identifies who a job is accounted to.
type Consumer struct {
	Queue   string
	Project string
	User    string
	Types   []string
}

// Key of a usage counter, every field is a value or Aggregate.
type Key struct {
	Queue   string
	Project string
	JobType string
	User    string
}

type Counters struct {
	Resources     int
	Jobs          int
	ResourceHours float64
}

// Usage holds counters of the jobs running during one slot, under every
// combination of consumer values and Aggregate.
type Usage map[Key]Counters

// Add accounts a job of nbResources units running for duration seconds.
func (u Usage) Add(c Consumer, nbResources int, duration int64) {
	u.apply(c, Counters{
		Resources:     nbResources,
		Jobs:          1,
		ResourceHours: resourceHours(nbResources, duration),
	})
}

// Remove reverts Add.
func (u Usage) Remove(c Consumer, nbResources int, duration int64) {
	u.apply(c, Counters{
		Resources:     -nbResources,
		Jobs:          -1,
		ResourceHours: -resourceHours(nbResources, duration),
	})
}

func (u Usage) apply(c Consumer, delta Counters) {
	for _, key := range c.keys() {
		current := u[key]
		current.Resources += delta.Resources
		current.Jobs += delta.Jobs
		current.ResourceHours += delta.ResourceHours
		if current.Jobs <= 0 {
			delete(u, key)
			continue
		}
		u[key] = current
	}
}

func (u Usage) Clone() Usage {
	out := make(Usage, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

func (u Usage) Equal(o Usage) bool {
	if len(u) != len(o) {
		return false
	}
	for k, v := range u {
		if w, ok := o[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (c Consumer) keys() []Key {
	var keys []Key
	seen := make(map[Key]bool)
	for _, queue := range []string{c.Queue, Aggregate} {
		for _, project := range []string{c.Project, Aggregate} {
			for _, jobType := range append(c.jobTypes(), Aggregate) {
				for _, user := range []string{c.User, Aggregate} {
					key := Key{Queue: queue, Project: project, JobType: jobType, User: user}
					if !seen[key] {
						seen[key] = true
						keys = append(keys, key)
					}
				}
			}
		}
	}
	return keys
}

// jobTypes returns the distinct job types, sorted
func (c Consumer) jobTypes() []string {
	seen := make(map[string]bool, len(c.Types))
	var out []string
	for _, t := range c.Types {
		if t == "" || t == Aggregate || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c Consumer) hasType(jobType string) bool {
	for _, t := range c.Types {
		if t == jobType {
			return true
		}
	}
	return false
}

func resourceHours(nbResources int, duration int64) float64 {
	return float64(nbResources) * float64(duration) / 3600
}
