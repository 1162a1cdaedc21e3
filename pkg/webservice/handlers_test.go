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

package webservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/common/resources"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/scheduler/policies"
	"github.com/kao-sched/kao-core/pkg/store"
)

const (
	unmarshalError = "Failed to unmarshal response from response body"
	passStart      = int64(1000)
)

// 2024-01-01 00:00:00 UTC
var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

const baseConf = `
hierarchy:
  levels: [network_address, cpu, core]
horizon: 100
`

func inventory(nodes, cores int) []hierarchy.Resource {
	var inv []hierarchy.Resource
	for id := 1; id <= nodes*cores; id++ {
		node := (id-1)/cores + 1
		inv = append(inv, hierarchy.Resource{
			ID: resources.ResourceID(id),
			Attributes: map[string]string{
				"network_address": fmt.Sprintf("node-%d", node),
				"cpu":             strconv.Itoa(node),
				"core":            strconv.Itoa(id),
			},
		})
	}
	return inv
}

func newTestContext(t *testing.T) (*scheduler.Scheduler, *store.Store) {
	st, err := store.New()
	assert.NilError(t, err)
	assert.NilError(t, st.SetInventory(inventory(2, 4)))
	sched, err := scheduler.New(st, quotas.NewManager(), nil, scheduler.Config{
		Levels:        []string{"network_address", "cpu", "core"},
		Horizon:       100,
		PolicyOptions: policies.DefaultOptions(),
		HistoryDepth:  10,
	})
	assert.NilError(t, err)
	NewWebApp(sched, st, "")
	return sched, st
}

func runPass(t *testing.T, sched *scheduler.Scheduler, st *store.Store) *scheduler.PassResult {
	jobs := []*objects.Job{{
		ID:    "job-1",
		Queue: "default",
		User:  "alice",
		Alternatives: []objects.Alternative{{
			Request: objects.Request{Branches: []objects.Branch{{
				Levels: []objects.LevelCount{{Level: "network_address", Count: 1}, {Level: "core", Count: 2}},
			}}},
			Walltime: 50,
		}},
	}, {
		ID:    "job-2",
		Queue: "default",
		User:  "alice",
		Alternatives: []objects.Alternative{{
			Request:  objects.Request{Branches: []objects.Branch{{Levels: []objects.LevelCount{{Level: "core", Count: 9}}}}},
			Walltime: 10,
		}},
	}}
	result, err := sched.Schedule(context.Background(), passStart, jobs)
	assert.NilError(t, err)
	assert.NilError(t, st.Apply(result.Placements, result.Rejected(), nil))
	return result
}

func serve(method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	newRouter().ServeHTTP(rr, req)
	return rr
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, code int, message string) {
	t.Helper()
	assert.Equal(t, rr.Code, code)
	var errInfo struct {
		StatusCode int    `json:"status_code"`
		Message    string `json:"message"`
	}
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &errInfo), unmarshalError)
	assert.Equal(t, errInfo.StatusCode, code)
	assert.Assert(t, strings.Contains(errInfo.Message, message), errInfo.Message)
}

func TestGetSlots(t *testing.T) {
	sched, st := newTestContext(t)
	assertError(t, serve("GET", "/ws/v1/slots", "", nil), http.StatusNotFound, noPassMessage)

	result := runPass(t, sched, st)
	rr := serve("GET", "/ws/v1/slots", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	var slotsInfo []struct {
		Begin int64  `json:"begin"`
		End   int64  `json:"end"`
		Free  string `json:"free"`
		Jobs  int    `json:"jobs"`
	}
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &slotsInfo), unmarshalError)
	assert.Equal(t, len(slotsInfo), len(result.Slots))
	assert.Equal(t, slotsInfo[0].Begin, passStart)
	assert.Equal(t, slotsInfo[0].End, passStart+49)
	assert.Equal(t, slotsInfo[0].Jobs, 1)
	assert.Equal(t, slotsInfo[1].Free, "1-8")
}

func TestGetLastPass(t *testing.T) {
	sched, st := newTestContext(t)
	result := runPass(t, sched, st)
	rr := serve("GET", "/ws/v1/pass", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	var pass struct {
		ID       string `json:"id"`
		State    string `json:"state"`
		Outcomes []struct {
			JobID   string `json:"jobId"`
			Outcome string `json:"outcome"`
		} `json:"outcomes"`
		Placements []struct {
			JobID string `json:"jobId"`
		} `json:"placements"`
	}
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &pass), unmarshalError)
	assert.Equal(t, pass.ID, result.ID)
	assert.Equal(t, pass.State, scheduler.PassCompleted.String())
	assert.Equal(t, len(pass.Outcomes), 2)
	assert.Equal(t, pass.Outcomes[0].Outcome, metrics.JobPlaced)
	assert.Equal(t, pass.Outcomes[1].Outcome, metrics.JobInfeasible)
	assert.Equal(t, len(pass.Placements), 1)
	assert.Equal(t, pass.Placements[0].JobID, "job-1")
}

func TestGetAssignments(t *testing.T) {
	sched, st := newTestContext(t)
	result := runPass(t, sched, st)

	rr := serve("GET", "/ws/v1/assignments/job-1", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	var assignment struct {
		JobID     string `json:"jobId"`
		Begin     int64  `json:"begin"`
		Resources string `json:"resources"`
	}
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &assignment), unmarshalError)
	assert.Equal(t, assignment.JobID, "job-1")
	assert.Equal(t, assignment.Begin, passStart)
	assert.Equal(t, assignment.Resources, result.Placement("job-1").Resources.String())

	assertError(t, serve("GET", "/ws/v1/assignments/job-2", "", nil), http.StatusNotFound, noAssignMessage)

	var list []struct {
		JobID string `json:"jobId"`
	}
	rr = serve("GET", "/ws/v1/assignments", "", nil)
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &list), unmarshalError)
	assert.Equal(t, len(list), 1)
	rr = serve("GET", "/ws/v1/assignments?at=1100", "", nil)
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &list), unmarshalError)
	assert.Equal(t, len(list), 0)
	assertError(t, serve("GET", "/ws/v1/assignments?at=soon", "", nil), http.StatusBadRequest, "invalid timestamp")
}

func TestGetCalendar(t *testing.T) {
	sched, _ := newTestContext(t)
	var info struct {
		At            int64    `json:"at"`
		QuotasEnabled bool     `json:"quotasEnabled"`
		Temporal      bool     `json:"temporal"`
		RuleSetID     int      `json:"ruleSetId"`
		RuleSetName   string   `json:"ruleSetName"`
		Remaining     int64    `json:"remaining"`
		Rules         []string `json:"rules"`
	}
	rr := serve("GET", "/ws/v1/calendar?at=42", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &info), unmarshalError)
	assert.Equal(t, info.At, int64(42))
	assert.Assert(t, !info.QuotasEnabled)
	assert.Equal(t, info.RuleSetID, quotas.NoRule)

	rules := quotas.RulesConfig{
		Periodical: [][]string{
			{"* mon-wed * *", "quotas_1", "early week"},
			{"* thu-sun * *", "quotas_2", "late week"},
		},
		RuleSets: map[string]map[string][]float64{
			"quotas_1": {"*,*,*,john": {10, -1, -1}},
			"quotas_2": {"*,*,*,lili": {20, -1, -1}},
		},
	}
	assert.NilError(t, sched.Quotas().Load(true, rules, quotas.Options{Period: 3 * 7 * 86400, Location: time.UTC}))
	rr = serve("GET", fmt.Sprintf("/ws/v1/calendar?at=%d", monday), "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &info), unmarshalError)
	assert.Assert(t, info.QuotasEnabled)
	assert.Assert(t, info.Temporal)
	assert.Equal(t, info.RuleSetID, 0)
	assert.Equal(t, info.RuleSetName, "quotas_1")
	assert.Equal(t, info.Remaining, int64(259200))
	assert.DeepEqual(t, info.Rules, []string{"*,*,*,john: [10, -1, -1]"})

	assertError(t, serve("GET", "/ws/v1/calendar?at=monday", "", nil), http.StatusBadRequest, "invalid timestamp")
}

func TestGetClusterConfig(t *testing.T) {
	newTestContext(t)
	conf, err := configs.LoadSchedulerConfigFromByteArray([]byte(baseConf))
	assert.NilError(t, err)
	configs.ConfigContext.Set(conf)
	defer configs.ConfigContext.Set(nil)

	rr := serve("GET", "/ws/v1/config", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.Assert(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "application/x-yaml"))
	var parsed configs.SchedulerConfig
	assert.NilError(t, yaml.Unmarshal(rr.Body.Bytes(), &parsed))
	assert.Equal(t, parsed.Horizon, int64(100))
	assert.Equal(t, parsed.Checksum, conf.Checksum)

	rr = serve("GET", "/ws/v1/config", "", map[string]string{"Accept": "application/json"})
	assert.Equal(t, rr.Code, http.StatusOK)
	var asJSON map[string]interface{}
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &asJSON), unmarshalError)
	assert.Equal(t, asJSON["Checksum"], conf.Checksum)
}

func TestValidateConf(t *testing.T) {
	tests := []struct {
		content string
		allowed bool
		reason  string
	}{
		{baseConf, true, ""},
		{`
hierarchy:
  levels: [network_address, cpu, core]
policies:
  default: nowhere
`, false, "nowhere"},
		{`
unknown: field
`, false, "unknown"},
	}
	for _, test := range tests {
		rr := serve("POST", "/ws/v1/validate-conf", test.content, nil)
		assert.Equal(t, rr.Code, http.StatusOK)
		var vcr struct {
			Allowed bool   `json:"allowed"`
			Reason  string `json:"reason"`
		}
		assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &vcr), unmarshalError)
		assert.Equal(t, vcr.Allowed, test.allowed, test.content)
		assert.Assert(t, strings.Contains(vcr.Reason, test.reason), vcr.Reason)
	}
}

func TestFullStateDump(t *testing.T) {
	sched, st := newTestContext(t)
	runPass(t, sched, st)
	assert.NilError(t, st.Submit(&objects.Job{ID: "waiting", Submitted: 1}))

	rr := serve("GET", "/ws/v1/fullstatedump", "", nil)
	assert.Equal(t, rr.Code, http.StatusOK)
	var state AggregatedStateInfo
	assert.NilError(t, json.Unmarshal(rr.Body.Bytes(), &state), unmarshalError)
	assert.Assert(t, state.Timestamp > 0)
	assert.Assert(t, state.LastPass != nil)
	assert.Assert(t, state.Calendar != nil)
	assert.Equal(t, len(state.Assignments), 1)
	assert.DeepEqual(t, state.Pending, []string{"waiting"})
	assert.Assert(t, state.LogLevel != "")
}

func TestNotStarted(t *testing.T) {
	NewWebApp(nil, nil, "")
	assertError(t, serve("GET", "/ws/v1/pass", "", nil), http.StatusServiceUnavailable, noSchedMessage)
	assertError(t, serve("GET", "/ws/v1/calendar", "", nil), http.StatusServiceUnavailable, noSchedMessage)
	assertError(t, serve("GET", "/ws/v1/assignments", "", nil), http.StatusServiceUnavailable, noSchedMessage)
}
