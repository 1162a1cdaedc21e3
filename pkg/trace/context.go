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
	"errors"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

var errNoActiveSpan = errors.New("no active span")

// TraceContext manages the spans of one scheduling pass.
type TraceContext interface {
	// ActiveSpan returns the latest unfinished span.
	ActiveSpan() (opentracing.Span, error)

	// StartSpan starts a child of the active span, or the root span of the trace.
	StartSpan(operationName string) opentracing.Span

	// FinishActiveSpan finishes the active span, its parent becomes active.
	FinishActiveSpan() error
}

var _ TraceContext = &TraceContextImpl{}

// TraceContextImpl reports spans once they are finished.
// The root span gets a sampling priority of 1 when OnDemandFlag is set.
type TraceContextImpl struct {
	Tracer       opentracing.Tracer
	SpanStack    []opentracing.Span
	OnDemandFlag bool
}

func (s *TraceContextImpl) ActiveSpan() (opentracing.Span, error) {
	if len(s.SpanStack) == 0 {
		return nil, errNoActiveSpan
	}
	return s.SpanStack[len(s.SpanStack)-1], nil
}

func (s *TraceContextImpl) StartSpan(operationName string) opentracing.Span {
	var newSpan opentracing.Span
	if span, err := s.ActiveSpan(); err != nil {
		newSpan = s.Tracer.StartSpan(operationName)
		if s.OnDemandFlag {
			ext.SamplingPriority.Set(newSpan, 1)
		}
	} else {
		newSpan = s.Tracer.StartSpan(operationName, opentracing.ChildOf(span.Context()))
	}
	s.SpanStack = append(s.SpanStack, newSpan)
	return newSpan
}

func (s *TraceContextImpl) FinishActiveSpan() error {
	span, err := s.ActiveSpan()
	if err != nil {
		return err
	}
	span.Finish()
	s.SpanStack = s.SpanStack[:len(s.SpanStack)-1]
	return nil
}
