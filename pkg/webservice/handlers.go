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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/slots"
	"github.com/kao-sched/kao-core/pkg/webservice/dao"
)

const (
	queryAt         = "at"
	paramJob        = "job"
	noPassMessage   = "no scheduling pass completed yet"
	noSchedMessage  = "scheduler not started"
	noAssignMessage = "no running assignment for job"
)

func getStackInfo(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var stack = func() []byte {
		buf := make([]byte, 1024)
		for {
			n := runtime.Stack(buf, true)
			if n < len(buf) {
				return buf[:n]
			}
			buf = make([]byte, 2*len(buf))
		}
	}
	if _, err := w.Write(stack()); err != nil {
		log.Log(log.REST).Error("GetStackInfo error", zap.Error(err))
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

// getCalendar returns the quota rule set active at the "at" timestamp, now when absent.
func getCalendar(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	sched, _ := getContext()
	if sched == nil {
		buildJSONErrorResponse(w, noSchedMessage, http.StatusServiceUnavailable)
		return
	}
	at := time.Now().Unix()
	if str := r.URL.Query().Get(queryAt); str != "" {
		parsed, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			buildJSONErrorResponse(w, fmt.Sprintf("invalid timestamp %q", str), http.StatusBadRequest)
			return
		}
		at = parsed
	}
	if err := json.NewEncoder(w).Encode(getCalendarDAO(sched.Quotas().Current(), at)); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getCalendarDAO(q *quotas.Quotas, at int64) *dao.CalendarDAOInfo {
	info := &dao.CalendarDAOInfo{
		At:            at,
		QuotasEnabled: q.Enabled(),
		Temporal:      q.Temporal(),
		RuleSetID:     quotas.NoRule,
	}
	if !q.Enabled() {
		return info
	}
	if q.Temporal() {
		calendar := q.Calendar()
		id, remaining := calendar.RulesAt(at)
		info.RuleSetID = id
		info.Period = calendar.Period()
		// an instant after the last transition has no remaining time
		if remaining < math.MaxInt64/4 {
			info.Remaining = remaining
		}
	}
	ruleSet := q.RuleSet(info.RuleSetID)
	info.RuleSetName = ruleSet.Name
	for _, rule := range ruleSet.Rules {
		info.Rules = append(info.Rules, fmt.Sprintf("%s: [%d, %d, %g]",
			rule, rule.MaxResources, rule.MaxJobs, rule.MaxResourceHours))
	}
	return info
}

func getSlots(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	last, ok := lastResult(w)
	if !ok {
		return
	}
	if err := json.NewEncoder(w).Encode(getSlotsDAO(last.Slots)); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getLastPass(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	last, ok := lastResult(w)
	if !ok {
		return
	}
	if err := json.NewEncoder(w).Encode(getPassDAO(last)); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func lastResult(w http.ResponseWriter) (*scheduler.PassResult, bool) {
	sched, _ := getContext()
	if sched == nil {
		buildJSONErrorResponse(w, noSchedMessage, http.StatusServiceUnavailable)
		return nil, false
	}
	last := sched.LastResult()
	if last == nil {
		buildJSONErrorResponse(w, noPassMessage, http.StatusNotFound)
		return nil, false
	}
	return last, true
}

func getSlotsDAO(infos []slots.Info) []dao.SlotDAOInfo {
	out := make([]dao.SlotDAOInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, dao.SlotDAOInfo{
			Begin:       info.Begin,
			End:         info.End,
			Free:        info.Free,
			QuotaRuleID: info.QuotaRuleID,
			Jobs:        info.Jobs,
		})
	}
	return out
}

func getAssignmentDAO(a *objects.Assignment) dao.AssignmentDAOInfo {
	return dao.AssignmentDAOInfo{
		JobID:     a.JobID,
		Queue:     a.Queue,
		Project:   a.Project,
		User:      a.User,
		Types:     a.Types,
		Begin:     a.Begin,
		End:       a.End,
		Resources: a.Resources.String(),
	}
}

func getPassDAO(result *scheduler.PassResult) *dao.PassDAOInfo {
	info := &dao.PassDAOInfo{
		ID:                   result.ID,
		Begin:                result.Begin,
		End:                  result.End,
		State:                result.State,
		Revision:             result.Revision,
		QuotasEnabled:        result.QuotasEnabled,
		CharacterizationRead: result.CharacterizationRead,
		Slots:                getSlotsDAO(result.Slots),
	}
	for _, a := range result.Placements {
		info.Placements = append(info.Placements, getAssignmentDAO(a))
	}
	for _, o := range result.Outcomes {
		info.Outcomes = append(info.Outcomes, dao.OutcomeDAOInfo{
			JobID:       o.JobID,
			Outcome:     o.Outcome,
			Policy:      o.Policy,
			Alternative: o.Alternative,
			Reason:      o.Reason,
		})
	}
	return info
}

// getAssignments returns the assignments of the store running at "at", all of them when absent.
func getAssignments(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	_, st := getContext()
	if st == nil {
		buildJSONErrorResponse(w, noSchedMessage, http.StatusServiceUnavailable)
		return
	}
	begin, end := int64(math.MinInt64), int64(math.MaxInt64)
	if str := r.URL.Query().Get(queryAt); str != "" {
		at, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			buildJSONErrorResponse(w, fmt.Sprintf("invalid timestamp %q", str), http.StatusBadRequest)
			return
		}
		begin, end = at, at
	}
	snapshot, err := st.Snapshot()
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	assignments, err := snapshot.Assignments(begin, end)
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]dao.AssignmentDAOInfo, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, getAssignmentDAO(a))
	}
	if err = json.NewEncoder(w).Encode(out); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getAssignment(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	_, st := getContext()
	if st == nil {
		buildJSONErrorResponse(w, noSchedMessage, http.StatusServiceUnavailable)
		return
	}
	jobID := httprouter.ParamsFromContext(r.Context()).ByName(paramJob)
	snapshot, err := st.Snapshot()
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a, err := snapshot.Assignment(jobID)
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		buildJSONErrorResponse(w, noAssignMessage, http.StatusNotFound)
		return
	}
	if err = json.NewEncoder(w).Encode(getAssignmentDAO(a)); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getClusterConfig(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)

	conf := configs.ConfigContext.Get()
	if conf == nil {
		buildJSONErrorResponse(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	configDAO := &dao.ConfigDAOInfo{SchedulerConfig: conf}
	var marshalled []byte
	var err error
	// json output is requested, yaml otherwise
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		marshalled, err = json.Marshal(configDAO)
	} else {
		w.Header().Set("Content-Type", "application/x-yaml; charset=UTF-8")
		marshalled, err = yaml.Marshal(configDAO)
	}
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err = w.Write(marshalled); err != nil {
		log.Log(log.REST).Error("failed to write config response", zap.Error(err))
	}
}

func validateConf(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	requestBytes, err := io.ReadAll(r.Body)
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := dao.ValidateConfResponse{Allowed: true}
	if _, err = configs.ParseAndValidateConfig(requestBytes); err != nil {
		result.Allowed = false
		result.Reason = err.Error()
	}
	if err = json.NewEncoder(w).Encode(result); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,HEAD,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With,Content-Type,Accept,Origin")
}

func buildJSONErrorResponse(w http.ResponseWriter, detail string, code int) {
	w.WriteHeader(code)
	errorInfo := dao.NewYAPIError(nil, code, detail)
	if jsonErr := json.NewEncoder(w).Encode(errorInfo); jsonErr != nil {
		log.Log(log.REST).Error("failed to encode error response", zap.Error(jsonErr))
	}
}
