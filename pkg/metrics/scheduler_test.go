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
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gotest.tools/v3/assert"
)

var sm *SchedulerMetrics

func TestJobOutcome(t *testing.T) {
	sm = getSchedulerMetrics(t)
	defer unregisterMetrics(t)

	sm.IncJobOutcome(JobPlaced)
	sm.AddJobOutcome(JobInfeasible, 3)
	sm.IncJobOutcome(JobPlaced)

	placed, err := sm.GetJobOutcome(JobPlaced)
	assert.NilError(t, err)
	assert.Equal(t, placed, 2)
	infeasible, err := sm.GetJobOutcome(JobInfeasible)
	assert.NilError(t, err)
	assert.Equal(t, infeasible, 3)
	rejected, err := sm.GetJobOutcome(JobRejected)
	assert.NilError(t, err)
	assert.Equal(t, rejected, 0)
}

func TestPolicyFallback(t *testing.T) {
	sm = getSchedulerMetrics(t)
	defer unregisterMetrics(t)

	sm.IncPolicyFallback("f_compact")
	sm.IncPolicyFallback("f_compact")
	sm.IncPolicyFallback("")
	sm.IncPolicyFallback(string([]byte{0xff, 0xfe}))

	count, err := sm.GetPolicyFallback("f_compact")
	assert.NilError(t, err)
	assert.Equal(t, count, 2)
	count, err = sm.GetPolicyFallback(unknownLabel)
	assert.NilError(t, err)
	assert.Equal(t, count, 2)
}

func TestDegradedModes(t *testing.T) {
	sm = getSchedulerMetrics(t)
	defer unregisterMetrics(t)

	sm.IncCharacterizationFallback()
	sm.IncQuotasDisabled()
	sm.IncQuotasDisabled()

	count, err := sm.GetCharacterizationFallback()
	assert.NilError(t, err)
	assert.Equal(t, count, 1)
	count, err = sm.GetQuotasDisabled()
	assert.NilError(t, err)
	assert.Equal(t, count, 2)
}

func TestSlots(t *testing.T) {
	sm = getSchedulerMetrics(t)
	defer unregisterMetrics(t)

	sm.SetSlots(12)
	verifyGauge(t, "kao_scheduler_slots", 12)
	sm.SetSlots(4)
	count, err := sm.GetSlots()
	assert.NilError(t, err)
	assert.Equal(t, count, 4)
	sm.Reset()
	verifyGauge(t, "kao_scheduler_slots", 0)
}

func TestPassLatency(t *testing.T) {
	sm = getSchedulerMetrics(t)
	defer unregisterMetrics(t)

	sm.ObservePassLatency(time.Now().Add(-1 * time.Minute))
	sm.IncPass(PassCompleted)
	verifyHistogram(t, "pass_latency_seconds", 60, 1)
}

func getSchedulerMetrics(t *testing.T) *SchedulerMetrics {
	unregisterMetrics(t)
	return InitSchedulerMetrics()
}

func verifyHistogram(t *testing.T, name string, value float64, delta float64) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	assert.NilError(t, err)
	var checked bool
	for _, metric := range mfs {
		if strings.Contains(metric.GetName(), name) {
			assert.Equal(t, 1, len(metric.Metric))
			assert.Equal(t, dto.MetricType_HISTOGRAM, metric.GetType())
			m := metric.Metric[0]
			realDelta := math.Abs(*m.Histogram.SampleSum - value)
			assert.Check(t, realDelta < delta, fmt.Sprintf("wrong delta, expected <= %f, was %f", delta, realDelta))
			checked = true
		}
	}
	assert.Assert(t, checked, "Failed to find metric")
}

func verifyGauge(t *testing.T, name string, expected float64) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	assert.NilError(t, err)
	var checked bool
	for _, metric := range mfs {
		if metric.GetName() == name {
			assert.Equal(t, 1, len(metric.Metric))
			assert.Equal(t, dto.MetricType_GAUGE, metric.GetType())
			assert.Equal(t, expected, *metric.Metric[0].Gauge.Value)
			checked = true
		}
	}
	assert.Assert(t, checked, "Failed to find metric")
}

func unregisterMetrics(t *testing.T) {
	current, ok := GetSchedulerMetrics().(*SchedulerMetrics)
	if !ok {
		t.Fatalf("Type assertion failed, metrics is not SchedulerMetrics")
	}
	for _, c := range current.collectors() {
		prometheus.Unregister(c)
	}
	if sm != nil {
		for _, c := range sm.collectors() {
			prometheus.Unregister(c)
		}
	}
}
