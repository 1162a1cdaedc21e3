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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
)

// Job outcomes of a pass.
const (
	JobPlaced     = "placed"
	JobInfeasible = "infeasible"
	JobRejected   = "rejected"
)

// Pass results.
const (
	PassCompleted = "completed"
	PassAborted   = "aborted"
	PassFailed    = "failed"
)

const unknownLabel = "unknown"

// CoreSchedulerMetrics is the metrics surface used by the scheduling pass and the policies.
type CoreSchedulerMetrics interface {
	ObservePassLatency(start time.Time)
	ObservePolicyLatency(start time.Time)
	IncPass(result string)
	IncJobOutcome(outcome string)
	AddJobOutcome(outcome string, value int)
	IncPolicyFallback(policy string)
	IncCharacterizationFallback()
	IncQuotasDisabled()
	SetSlots(value int)
	GetJobOutcome(outcome string) (int, error)
	GetPolicyFallback(policy string) (int, error)
	GetCharacterizationFallback() (int, error)
	GetQuotasDisabled() (int, error)
	GetSlots() (int, error)
	Reset()
}

// SchedulerMetrics to declare scheduler metrics
type SchedulerMetrics struct {
	passLatency              prometheus.Histogram
	policyLatency            prometheus.Histogram
	pass                     *prometheus.CounterVec
	jobOutcome               *prometheus.CounterVec
	policyFallback           *prometheus.CounterVec
	characterizationFallback prometheus.Counter
	quotasDisabled           prometheus.Counter
	slots                    prometheus.Gauge
	lock                     locking.RWMutex
}

// InitSchedulerMetrics to initialize scheduler metrics
func InitSchedulerMetrics() *SchedulerMetrics {
	s := &SchedulerMetrics{}

	s.passLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "pass_latency_seconds",
			Help:      "Latency of a complete scheduling pass, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 7),
		},
	)
	s.policyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "policy_latency_seconds",
			Help:      "Latency of one placement policy call on a candidate slot, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 6),
		},
	)
	s.pass = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "pass_total",
			Help:      "Total number of scheduling passes. Result of the pass is `completed`, `aborted` or `failed`.",
		}, []string{"result"})
	s.jobOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "job_outcome_total",
			Help:      "Total number of job placement attempts. Outcome is `placed`, `infeasible` or `rejected`.",
		}, []string{"outcome"})
	s.policyFallback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "policy_fallback_total",
			Help:      "Total number of times a fallback policy had to run its complementary policy.",
		}, []string{"policy"})
	s.characterizationFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "characterization_fallback_total",
			Help:      "Total number of passes where node characterization was unavailable and weighted policies used unweighted ordering.",
		})
	s.quotasDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "quotas_disabled_total",
			Help:      "Total number of times quotas were disabled because of an invalid quotas configuration.",
		})
	s.slots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SchedulerSubsystem,
			Name:      "slots",
			Help:      "Number of slots in the slot set of the last pass.",
		})

	var metricsList = []prometheus.Collector{
		s.passLatency,
		s.policyLatency,
		s.pass,
		s.jobOutcome,
		s.policyFallback,
		s.characterizationFallback,
		s.quotasDisabled,
		s.slots,
	}
	for _, metric := range metricsList {
		if err := prometheus.Register(metric); err != nil {
			log.Log(log.Metrics).Warn("failed to register metrics collector", zap.Error(err))
		}
	}
	return s
}

func (m *SchedulerMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.passLatency,
		m.policyLatency,
		m.pass,
		m.jobOutcome,
		m.policyFallback,
		m.characterizationFallback,
		m.quotasDisabled,
		m.slots,
	}
}

// Reset clears the labelled metrics.
func (m *SchedulerMetrics) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.pass.Reset()
	m.jobOutcome.Reset()
	m.policyFallback.Reset()
	m.slots.Set(0)
}

func SinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (m *SchedulerMetrics) ObservePassLatency(start time.Time) {
	m.passLatency.Observe(SinceInSeconds(start))
}

func (m *SchedulerMetrics) ObservePolicyLatency(start time.Time) {
	m.policyLatency.Observe(SinceInSeconds(start))
}

func (m *SchedulerMetrics) IncPass(result string) {
	m.pass.With(prometheus.Labels{"result": result}).Inc()
}

func (m *SchedulerMetrics) IncJobOutcome(outcome string) {
	m.jobOutcome.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m *SchedulerMetrics) AddJobOutcome(outcome string, value int) {
	m.jobOutcome.With(prometheus.Labels{"outcome": outcome}).Add(float64(value))
}

func (m *SchedulerMetrics) GetJobOutcome(outcome string) (int, error) {
	metricDto := &dto.Metric{}
	err := m.jobOutcome.With(prometheus.Labels{"outcome": outcome}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

// IncPolicyFallback counts a fallback policy switching to its complementary policy.
// Policy names come from job types: a name that is not a valid label value is counted as unknown.
func (m *SchedulerMetrics) IncPolicyFallback(policy string) {
	m.policyFallback.With(prometheus.Labels{"policy": policyLabel(policy)}).Inc()
}

func (m *SchedulerMetrics) GetPolicyFallback(policy string) (int, error) {
	metricDto := &dto.Metric{}
	err := m.policyFallback.With(prometheus.Labels{"policy": policyLabel(policy)}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

func (m *SchedulerMetrics) IncCharacterizationFallback() {
	m.characterizationFallback.Inc()
}

func (m *SchedulerMetrics) GetCharacterizationFallback() (int, error) {
	metricDto := &dto.Metric{}
	err := m.characterizationFallback.Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

func (m *SchedulerMetrics) IncQuotasDisabled() {
	m.quotasDisabled.Inc()
}

func (m *SchedulerMetrics) GetQuotasDisabled() (int, error) {
	metricDto := &dto.Metric{}
	err := m.quotasDisabled.Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

func (m *SchedulerMetrics) SetSlots(value int) {
	m.slots.Set(float64(value))
}

func (m *SchedulerMetrics) GetSlots() (int, error) {
	metricDto := &dto.Metric{}
	err := m.slots.Write(metricDto)
	if err == nil {
		return int(*metricDto.Gauge.Value), nil
	}
	return -1, err
}

func policyLabel(policy string) string {
	if policy == "" || !model.LabelValue(policy).IsValid() {
		return unknownLabel
	}
	return policy
}
