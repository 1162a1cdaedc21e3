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

package scheduler

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/log"
)

// ----------------------------------
// pass events
// ----------------------------------
type PassEvent int

const (
	Seed PassEvent = iota
	Start
	Complete
	Abort
	Fail
)

func (pe PassEvent) String() string {
	return [...]string{"Seed", "Start", "Complete", "Abort", "Fail"}[pe]
}

// ----------------------------------
// pass states
// ----------------------------------
type PassState int

const (
	PassNew PassState = iota
	PassSeeded
	PassScheduling
	PassCompleted
	PassAborted
	PassFailed
)

func (ps PassState) String() string {
	return [...]string{"New", "Seeded", "Scheduling", "Completed", "Aborted", "Failed"}[ps]
}

// NewPassState creates the lifecycle of one pass. Abort is only reachable before scheduling
// starts committing, the caller refuses it once a job is committed.
func NewPassState() *fsm.FSM {
	return fsm.NewFSM(
		PassNew.String(), fsm.Events{
			{
				Name: Seed.String(),
				Src:  []string{PassNew.String()},
				Dst:  PassSeeded.String(),
			}, {
				Name: Start.String(),
				Src:  []string{PassSeeded.String()},
				Dst:  PassScheduling.String(),
			}, {
				Name: Complete.String(),
				Src:  []string{PassScheduling.String()},
				Dst:  PassCompleted.String(),
			}, {
				Name: Abort.String(),
				Src:  []string{PassNew.String(), PassSeeded.String(), PassScheduling.String()},
				Dst:  PassAborted.String(),
			}, {
				Name: Fail.String(),
				Src:  []string{PassNew.String(), PassSeeded.String(), PassScheduling.String()},
				Dst:  PassFailed.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, event *fsm.Event) {
				log.Log(log.FSM).Debug("pass transition",
					zap.Any("pass", event.Args[0]),
					zap.String("source", event.Src),
					zap.String("destination", event.Dst),
					zap.String("event", event.Event))
			},
		},
	)
}
