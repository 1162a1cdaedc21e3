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
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

// Policy chooses the resources granted to a request inside the resources available in a candidate slot.
// The result is a complete allocation for one branch of the request or an empty set.
type Policy interface {
	Name() string
	Find(ctx *Context, available resources.IntervalSet, request objects.Request) resources.IntervalSet
}

// Options shared by every policy of a pass.
type Options struct {
	NodeLevel   string
	SocketLevel string
	CoreLevel   string
	// Weights of the characterization classes, indexed by objects.Class
	Weights [3]float64
}

// DefaultOptions for the network_address / cpu / core topology.
func DefaultOptions() Options {
	return Options{
		NodeLevel:   "network_address",
		SocketLevel: "cpu",
		CoreLevel:   "core",
		Weights:     [3]float64{0, 2, 1},
	}
}

// WeightsFrom converts a configured weight list, missing entries keep their default.
func WeightsFrom(list []float64) [3]float64 {
	weights := DefaultOptions().Weights
	copy(weights[:], list)
	return weights
}

// CharacterizationProvider classifies nodes, keyed by their node level value.
type CharacterizationProvider interface {
	NodeCharacterization() (map[string]objects.Class, error)
}

// CharacterizationFunc adapts a function to a CharacterizationProvider.
type CharacterizationFunc func() (map[string]objects.Class, error)

func (f CharacterizationFunc) NodeCharacterization() (map[string]objects.Class, error) {
	return f()
}

var errNoProvider = errors.New("no characterization provider")

var characterizationLog = log.RateLimitedLog(log.Policy, time.Minute)

// Context of the policy calls of one pass.
// It is not safe for concurrent use: a pass runs its policy calls sequentially.
type Context struct {
	Hierarchy *hierarchy.Hierarchy
	// Begin of the slot set of the pass
	Begin   int64
	Options Options

	provider CharacterizationProvider
	loaded   bool
	classes  map[string]objects.Class
	err      error
}

func NewContext(h *hierarchy.Hierarchy, begin int64, opts Options, provider CharacterizationProvider) *Context {
	return &Context{
		Hierarchy: h,
		Begin:     begin,
		Options:   opts,
		provider:  provider,
	}
}

// nodeClasses reads the characterization at most once per context.
// A failed read is reported and the weighted policies order without weights for the rest of the pass.
func (ctx *Context) nodeClasses() (map[string]objects.Class, bool) {
	if !ctx.loaded {
		ctx.loaded = true
		if ctx.provider == nil {
			ctx.err = errNoProvider
		} else {
			ctx.classes, ctx.err = ctx.provider.NodeCharacterization()
		}
		if ctx.err != nil {
			characterizationLog.Warn("node characterization unavailable, using unweighted ordering",
				zap.Error(ctx.err))
			metrics.GetSchedulerMetrics().IncCharacterizationFallback()
		}
	}
	return ctx.classes, ctx.err == nil
}

// CharacterizationRead reports whether the characterization was read during the pass.
func (ctx *Context) CharacterizationRead() bool {
	return ctx.loaded
}
