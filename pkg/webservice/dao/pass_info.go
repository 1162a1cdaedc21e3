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

package dao

type SlotDAOInfo struct {
	Begin       int64  `json:"begin"`
	End         int64  `json:"end"`
	Free        string `json:"free"`
	QuotaRuleID int    `json:"quotaRuleId"`
	Jobs        int    `json:"jobs"`
}

type OutcomeDAOInfo struct {
	JobID       string `json:"jobId"`
	Outcome     string `json:"outcome"`
	Policy      string `json:"policy,omitempty"`
	Alternative int    `json:"alternative"`
	Reason      string `json:"reason,omitempty"`
}

type AssignmentDAOInfo struct {
	JobID     string   `json:"jobId"`
	Queue     string   `json:"queue"`
	Project   string   `json:"project,omitempty"`
	User      string   `json:"user"`
	Types     []string `json:"types,omitempty"`
	Begin     int64    `json:"begin"`
	End       int64    `json:"end"`
	Resources string   `json:"resources"`
}

type PassDAOInfo struct {
	ID                   string              `json:"id"`
	Begin                int64               `json:"begin"`
	End                  int64               `json:"end"`
	State                string              `json:"state"`
	Revision             uint64              `json:"revision"`
	QuotasEnabled        bool                `json:"quotasEnabled"`
	CharacterizationRead bool                `json:"characterizationRead"`
	Placements           []AssignmentDAOInfo `json:"placements,omitempty"`
	Outcomes             []OutcomeDAOInfo    `json:"outcomes,omitempty"`
	Slots                []SlotDAOInfo       `json:"slots,omitempty"`
}
