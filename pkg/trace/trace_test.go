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
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"gotest.tools/v3/assert"
)

func TestTraceContext(t *testing.T) {
	tracer := mocktracer.New()
	ctx := &TraceContextImpl{Tracer: tracer, SpanStack: []opentracing.Span{}}

	_, err := ctx.ActiveSpan()
	assert.ErrorContains(t, err, "no active span")
	assert.ErrorContains(t, ctx.FinishActiveSpan(), "no active span")

	root := ctx.StartSpan(PassOperation)
	SetTags(root, PassTags{ID: "pass-1", Begin: 10, End: 99, Jobs: 2})
	child := ctx.StartSpan(JobOperation)
	SetTags(child, JobTags{JobID: "job-1", Policy: "compact", Outcome: "placed"})
	active, err := ctx.ActiveSpan()
	assert.NilError(t, err)
	assert.Equal(t, active, child)
	assert.NilError(t, ctx.FinishActiveSpan())
	assert.NilError(t, ctx.FinishActiveSpan())
	assert.Equal(t, len(ctx.SpanStack), 0)

	spans := tracer.FinishedSpans()
	assert.Equal(t, len(spans), 2)
	assert.Equal(t, spans[0].OperationName, JobOperation)
	assert.Equal(t, spans[1].OperationName, PassOperation)
	assert.Equal(t, spans[0].ParentID, spans[1].SpanContext.SpanID)
	assert.Equal(t, spans[1].Tag(PassIDKey), "pass-1")
	assert.Equal(t, spans[1].Tag(JobsKey), 2)
	assert.Equal(t, spans[0].Tag(JobIDKey), "job-1")
	assert.Equal(t, spans[0].Tag(PolicyKey), "compact")
	assert.Assert(t, spans[0].Tag(ReasonKey) == nil)
}

func TestOnDemand(t *testing.T) {
	tracer := mocktracer.New()
	impl := &SchedulerTracerImpl{Tracer: tracer, Mode: Sampling}
	impl.SetMode(OnDemand)
	impl.SetMode("Debug")
	assert.Equal(t, impl.Mode, OnDemand)
	ctx := impl.NewTraceContext()
	assert.Assert(t, ctx.(*TraceContextImpl).OnDemandFlag)
	ctx.StartSpan(PassOperation)
	ctx.StartSpan(JobOperation)
	assert.NilError(t, ctx.FinishActiveSpan())
	assert.NilError(t, ctx.FinishActiveSpan())

	spans := tracer.FinishedSpans()
	assert.Equal(t, len(spans), 2)
	assert.Assert(t, spans[1].SpanContext.Sampled)

	impl.SetMode(Sampling)
	assert.Assert(t, !impl.NewTraceContext().(*TraceContextImpl).OnDemandFlag)
}

func TestConstTracer(t *testing.T) {
	_, _, err := NewConstTracer("")
	assert.ErrorContains(t, err, "service name is empty")

	tracer, closer, err := NewConstTracer("test")
	assert.NilError(t, err)
	defer closer.Close()
	impl := &SchedulerTracerImpl{Tracer: tracer, Mode: Sampling}
	ctx := impl.NewTraceContext()
	span := ctx.StartSpan(PassOperation)
	assert.Assert(t, span != nil)
	assert.NilError(t, ctx.FinishActiveSpan())

	noop := NewNoopSchedulerTracer()
	noopCtx := noop.NewTraceContext()
	noopCtx.StartSpan(PassOperation)
	assert.NilError(t, noopCtx.FinishActiveSpan())
	noop.Close()
}
