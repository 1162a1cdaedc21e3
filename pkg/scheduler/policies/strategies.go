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
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

// orderedPolicy sorts the groups of every requested level and lets the matcher pick in that order.
type orderedPolicy struct {
	name  string
	order ordering
	// withhold the upper half of every socket before matching
	withhold bool
}

func (p *orderedPolicy) Name() string {
	return p.name
}

func (p *orderedPolicy) Find(ctx *Context, available resources.IntervalSet, request objects.Request) resources.IntervalSet {
	var weight weigher
	if p.order.weighted {
		if classes, ok := ctx.nodeClasses(); ok {
			weight = classWeigher(ctx, classes)
		}
	}
	for _, branch := range request.Branches {
		if found := p.findBranch(ctx, available, branch, weight); !found.IsEmpty() {
			return found
		}
	}
	return resources.IntervalSet{}
}

func (p *orderedPolicy) findBranch(ctx *Context, available resources.IntervalSet, branch objects.Branch, weight weigher) resources.IntervalSet {
	h := ctx.Hierarchy
	eligible := h.Eligible(branch.Predicate())
	constrained := available.Intersection(eligible)
	if constrained.IsEmpty() {
		return resources.IntervalSet{}
	}
	occ := newOccupancy(h, eligible, constrained)
	if p.withhold {
		reduced := withholdSockets(h, ctx.Options.SocketLevel, constrained)
		if !reduced.Equal(constrained) {
			if found := match(h, reduced, branch, occ, &p.order, weight); !found.IsEmpty() {
				return found
			}
			log.Log(log.Policy).Debug("withheld socket halves too small, using every core",
				zap.String("policy", p.name),
				zap.Stringer("branch", branch))
		}
	}
	return match(h, constrained, branch, occ, &p.order, weight)
}

func match(h *hierarchy.Hierarchy, search resources.IntervalSet, branch objects.Branch, occ *occupancy, order *ordering, weight weigher) resources.IntervalSet {
	levels := make([][]resources.IntervalSet, len(branch.Levels))
	for i, lc := range branch.Levels {
		levels[i] = orderGroups(h, lc.Level, search, occ, order, weight)
	}
	return hierarchy.FindScattered(search, levels, branch.Counts())
}

// withholdSockets removes, in every socket, the available cores past the first half of the socket.
func withholdSockets(h *hierarchy.Hierarchy, socketLevel string, available resources.IntervalSet) resources.IntervalSet {
	sockets := h.Groups(socketLevel)
	if len(sockets) == 0 {
		return available
	}
	reduced := available
	for _, socket := range sockets {
		free := available.Intersection(socket)
		half := socket.Len() / 2
		if free.Len() <= half {
			continue
		}
		reduced = reduced.Difference(free.Elements(half, free.Len()))
	}
	return reduced
}

// exclusivePolicy rewrites core counts into whole nodes before calling the wrapped policy.
type exclusivePolicy struct {
	inner Policy
}

func (p *exclusivePolicy) Name() string {
	return objects.TypeExclusive + "(" + p.inner.Name() + ")"
}

func (p *exclusivePolicy) Find(ctx *Context, available resources.IntervalSet, request objects.Request) resources.IntervalSet {
	return p.inner.Find(ctx, available, RewriteExclusive(ctx.Hierarchy, ctx.Options, request))
}

// RewriteExclusive rewrites every branch asking for levels finer than the node level into a whole node request.
// The number of cores asked below the node level becomes ceil(cores / coresPerNode) nodes.
// A branch that already names the node level keeps its node count.
func RewriteExclusive(h *hierarchy.Hierarchy, opts Options, request objects.Request) objects.Request {
	nodes := len(h.Groups(opts.NodeLevel))
	coreLevel := opts.CoreLevel
	if !h.HasLevel(coreLevel) {
		coreLevel = hierarchy.ResourceIDLevel
	}
	cores := len(h.Groups(coreLevel))
	if nodes == 0 || cores == 0 {
		return request
	}
	coresPerNode := cores / nodes
	if coresPerNode == 0 {
		coresPerNode = 1
	}
	nodePos := -1
	for i, name := range h.Levels() {
		if name == opts.NodeLevel {
			nodePos = i
		}
	}
	position := make(map[string]int)
	for i, name := range h.Levels() {
		position[name] = i
	}
	rewritten := objects.Request{Branches: make([]objects.Branch, len(request.Branches))}
	for b, branch := range request.Branches {
		out := objects.Branch{Properties: branch.Properties}
		nodeCount := 0
		finer := 1
		hasFiner := false
		for _, lc := range branch.Levels {
			switch pos := position[lc.Level]; {
			case pos < nodePos:
				out.Levels = append(out.Levels, lc)
			case pos == nodePos:
				nodeCount = lc.Count
			default:
				finer *= lc.Count
				hasFiner = true
			}
		}
		if nodeCount == 0 && hasFiner {
			nodeCount = common.CeilDiv(finer, coresPerNode)
		}
		if nodeCount > 0 {
			out.Levels = append(out.Levels, objects.LevelCount{Level: opts.NodeLevel, Count: nodeCount})
		}
		rewritten.Branches[b] = out
	}
	return rewritten
}

// fallbackPolicy runs the complementary policy when the primary one finds nothing.
type fallbackPolicy struct {
	name      string
	primary   Policy
	secondary Policy
}

func (p *fallbackPolicy) Name() string {
	return p.name
}

func (p *fallbackPolicy) Find(ctx *Context, available resources.IntervalSet, request objects.Request) resources.IntervalSet {
	if found := p.primary.Find(ctx, available, request); !found.IsEmpty() {
		return found
	}
	metrics.GetSchedulerMetrics().IncPolicyFallback(p.name)
	log.Log(log.Policy).Debug("primary policy found nothing, trying complementary policy",
		zap.String("policy", p.name),
		zap.String("secondary", p.secondary.Name()))
	return p.secondary.Find(ctx, available, request)
}
