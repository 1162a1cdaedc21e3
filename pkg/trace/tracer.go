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
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
)

// ServiceName reported to jaeger by the scheduler.
const ServiceName = "kao-scheduler"

// Trace modes:
// - Sampling: spans are reported following the sampler of the tracer
// - OnDemand: the root span of every pass forces sampling
const (
	Sampling = "Sampling"
	OnDemand = "OnDemand"
)

// SchedulerTracer creates one trace context per scheduling pass.
type SchedulerTracer interface {
	NewTraceContext() TraceContext
	Close()
}

var _ SchedulerTracer = &SchedulerTracerImpl{}

type SchedulerTracerImpl struct {
	Tracer opentracing.Tracer
	Closer io.Closer
	Mode   string
	locking.RWMutex
}

func (s *SchedulerTracerImpl) NewTraceContext() TraceContext {
	s.RLock()
	defer s.RUnlock()
	return &TraceContextImpl{
		Tracer:       s.Tracer,
		SpanStack:    []opentracing.Span{},
		OnDemandFlag: s.Mode == OnDemand,
	}
}

// SetMode switches between Sampling and OnDemand, other values are ignored.
func (s *SchedulerTracerImpl) SetMode(mode string) {
	if mode != Sampling && mode != OnDemand {
		return
	}
	s.Lock()
	defer s.Unlock()
	s.Mode = mode
}

func (s *SchedulerTracerImpl) Close() {
	if s.Closer != nil {
		if err := s.Closer.Close(); err != nil {
			log.Log(log.Trace).Warn("closing tracer failed", zap.Error(err))
		}
	}
}

// NewSchedulerTracer creates a jaeger tracer configured from the JAEGER_* environment variables.
func NewSchedulerTracer(mode string) (SchedulerTracer, error) {
	tracer, closer, err := NewTracerFromEnv(ServiceName)
	if err != nil {
		return nil, err
	}
	impl := &SchedulerTracerImpl{
		Tracer: tracer,
		Closer: closer,
		Mode:   Sampling,
	}
	impl.SetMode(mode)
	return impl, nil
}

// NewNoopSchedulerTracer creates a tracer that reports nothing.
func NewNoopSchedulerTracer() SchedulerTracer {
	return &SchedulerTracerImpl{
		Tracer: opentracing.NoopTracer{},
		Mode:   Sampling,
	}
}

// NewConstTracer returns a jaeger tracer that samples every trace and logs every span.
func NewConstTracer(serviceName string) (opentracing.Tracer, io.Closer, error) {
	if len(serviceName) == 0 {
		return nil, nil, fmt.Errorf("service name is empty")
	}
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: true,
		},
	}
	return cfg.NewTracer(
		jaegercfg.Logger(jaegerzap.NewLogger(log.Log(log.Trace).Named(serviceName))),
		jaegercfg.Metrics(metrics.NullFactory),
	)
}

// NewTracerFromEnv returns a jaeger tracer using the sampling strategy of the environment.
func NewTracerFromEnv(serviceName string) (opentracing.Tracer, io.Closer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}
	return cfg.NewTracer(
		jaegercfg.Logger(jaegerzap.NewLogger(log.Log(log.Trace).Named(cfg.ServiceName))),
		jaegercfg.Metrics(metrics.NullFactory),
	)
}
