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
	"sort"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

// Names of the built-in policies.
const (
	Compact   = "compact"
	Spread    = "spread"
	CoLoc     = "co_loc"
	NoPref    = "no_pref"
	Exclusive = "exclusive"
	CompactW  = "compact_w"
	SpreadW   = "spread_w"
	FCompact  = "f_compact"
	FSpread   = "f_spread"
	FCoLoc    = "f_co_loc"
)

var builtin = newBuiltin()

func newBuiltin() map[string]Policy {
	compact := &orderedPolicy{name: Compact, order: ordering{occupancyDesc: true, indexDesc: true}}
	spread := &orderedPolicy{name: Spread, order: ordering{}, withhold: true}
	coLoc := &orderedPolicy{name: CoLoc, order: ordering{occupancyDesc: true, indexDesc: true}, withhold: true}
	noPref := &orderedPolicy{name: NoPref, order: ordering{occupancyDesc: true}}
	return map[string]Policy{
		Compact:   compact,
		Spread:    spread,
		CoLoc:     coLoc,
		NoPref:    noPref,
		Exclusive: &exclusivePolicy{inner: noPref},
		CompactW:  &orderedPolicy{name: CompactW, order: ordering{occupancyDesc: true, indexDesc: true, weighted: true}},
		SpreadW:   &orderedPolicy{name: SpreadW, order: ordering{weighted: true}, withhold: true},
		FCompact:  &fallbackPolicy{name: FCompact, primary: compact, secondary: spread},
		FSpread:   &fallbackPolicy{name: FSpread, primary: spread, secondary: compact},
		FCoLoc:    &fallbackPolicy{name: FCoLoc, primary: coLoc, secondary: spread},
	}
}

// IsBuiltin reports whether a policy of that name exists.
func IsBuiltin(name string) bool {
	_, ok := builtin[name]
	return ok
}

// Names returns the built-in policy names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a built-in policy.
func Get(name string) (Policy, bool) {
	p, ok := builtin[name]
	return p, ok
}

// Registry selects the policy of a job.
type Registry struct {
	fallback Policy
}

// NewRegistry creates a registry whose default policy is used for jobs that select nothing.
func NewRegistry(defaultName string) (*Registry, error) {
	if defaultName == "" {
		defaultName = NoPref
	}
	p, ok := builtin[defaultName]
	if !ok {
		return nil, common.NewConfigurationError("policies", -1, "unknown default placement policy %q", defaultName)
	}
	return &Registry{fallback: p}, nil
}

func (r *Registry) Default() Policy {
	return r.fallback
}

// Select resolves the policy of a job: an explicit "find=<name>" type, then a bare policy name type,
// then the policy hint, then the default. An "exclusive" type wraps the selected policy with the
// whole node rewrite.
func (r *Registry) Select(job *objects.Job) (Policy, error) {
	selected, err := r.selectBase(job)
	if err != nil {
		return nil, err
	}
	if job.HasType(objects.TypeExclusive) {
		if _, wrapped := selected.(*exclusivePolicy); !wrapped {
			selected = &exclusivePolicy{inner: selected}
		}
	}
	return selected, nil
}

func (r *Registry) selectBase(job *objects.Job) (Policy, error) {
	if name, ok := job.TypeValue(objects.TypeFind); ok {
		p, found := builtin[name]
		if !found {
			return nil, common.NewRequestError(job.ID, "unknown placement policy %q", name)
		}
		return p, nil
	}
	for _, t := range job.Types {
		if t == Exclusive {
			continue
		}
		if p, found := builtin[t]; found {
			return p, nil
		}
	}
	if job.PolicyHint != "" {
		if p, found := builtin[job.PolicyHint]; found {
			return p, nil
		}
		log.Log(log.Policy).Debug("ignoring unknown policy hint",
			zap.String("jobID", job.ID),
			zap.String("hint", job.PolicyHint))
	}
	return r.fallback, nil
}
