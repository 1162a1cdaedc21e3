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
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/locking"
	kaoLog "github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/webservice/dao"
)

const (
	stateLogCallDepth = 2
)

var stateDump locking.Mutex // ensures only one state dump can be handled at a time

type AggregatedStateInfo struct {
	Timestamp   int64                   `json:"timestamp,omitempty"`
	LastPass    *dao.PassDAOInfo        `json:"lastPass,omitempty"`
	Calendar    *dao.CalendarDAOInfo    `json:"calendar,omitempty"`
	Assignments []dao.AssignmentDAOInfo `json:"assignments,omitempty"`
	Pending     []string                `json:"pending,omitempty"`
	Checksum    string                  `json:"checksum,omitempty"`
	LogLevel    string                  `json:"logLevel,omitempty"`
}

func getFullStateDump(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	if err := doStateDump(w); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func doStateDump(w io.Writer) error {
	stateDump.Lock()
	defer stateDump.Unlock()

	now := time.Now()
	var aggregated = AggregatedStateInfo{
		Timestamp: now.UnixNano(),
		LogLevel:  kaoLog.GetLevel().String(),
	}
	if conf := configs.ConfigContext.Get(); conf != nil {
		aggregated.Checksum = conf.Checksum
	}
	sched, st := getContext()
	if sched != nil {
		if last := sched.LastResult(); last != nil {
			aggregated.LastPass = getPassDAO(last)
		}
		aggregated.Calendar = getCalendarDAO(sched.Quotas().Current(), now.Unix())
	}
	if st != nil {
		snapshot, err := st.Snapshot()
		if err != nil {
			return err
		}
		assignments, err := snapshot.Assignments(math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			aggregated.Assignments = append(aggregated.Assignments, getAssignmentDAO(a))
		}
		pending, err := snapshot.PendingJobs()
		if err != nil {
			return err
		}
		for _, job := range pending {
			aggregated.Pending = append(aggregated.Pending, job.ID)
		}
	}

	var prettyJSON []byte
	var err error
	prettyJSON, err = json.MarshalIndent(aggregated, "", "  ")
	if err != nil {
		return err
	}

	stateLog := log.New(w, "", 0)
	if err = stateLog.Output(stateLogCallDepth, string(prettyJSON)); err != nil {
		return err
	}

	return nil
}
