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

package configs

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/scheduler/policies"
)

// level names are resource attribute names
var LevelNameRegExp = regexp.MustCompile("^[_a-zA-Z][a-zA-Z0-9_]*$")

func checkHierarchy(h *HierarchyConfig) error {
	if len(h.Levels) == 0 {
		return fmt.Errorf("hierarchy has no levels")
	}
	var result *multierror.Error
	seen := make(map[string]bool, len(h.Levels))
	for _, level := range h.Levels {
		if !LevelNameRegExp.MatchString(level) {
			result = multierror.Append(result, fmt.Errorf("invalid level name %q", level))
		}
		if seen[level] {
			result = multierror.Append(result, fmt.Errorf("duplicate level %q", level))
		}
		seen[level] = true
	}
	seen[hierarchy.ResourceIDLevel] = true
	if !seen[h.NodeLevel] {
		result = multierror.Append(result, fmt.Errorf("node level %q is not a hierarchy level", h.NodeLevel))
	}
	if !seen[h.CoreLevel] {
		result = multierror.Append(result, fmt.Errorf("core level %q is not a hierarchy level", h.CoreLevel))
	}
	if h.SocketLevel != "" && !seen[h.SocketLevel] {
		result = multierror.Append(result, fmt.Errorf("socket level %q is not a hierarchy level", h.SocketLevel))
	}
	return result.ErrorOrNil()
}

func checkPolicies(p *PoliciesConfig) error {
	var result *multierror.Error
	if !policies.IsBuiltin(p.Default) {
		result = multierror.Append(result, fmt.Errorf("unknown default policy %q", p.Default))
	}
	if len(p.Weights) != 3 {
		result = multierror.Append(result, fmt.Errorf("expected 3 characterization weights (unfriendly, friendly, neutral), got %d", len(p.Weights)))
	}
	if p.HistoryDepth < 0 {
		result = multierror.Append(result, fmt.Errorf("negative history depth %d", p.HistoryDepth))
	}
	return result.ErrorOrNil()
}

// checkQuotas checks the quotas section shape, the rules themselves are checked when loaded
func checkQuotas(q *QuotasConfig) error {
	var result *multierror.Error
	if q.Period < 0 {
		result = multierror.Append(result, fmt.Errorf("negative quotas period %d", q.Period))
	}
	if _, err := loadLocation(q.Timezone); err != nil {
		result = multierror.Append(result, fmt.Errorf("quotas timezone: %w", err))
	}
	if q.Rules != nil && q.File != "" {
		result = multierror.Append(result, fmt.Errorf("quotas rules are both inline and in file %q", q.File))
	}
	return result.ErrorOrNil()
}

// Validate checks the whole configuration and reports every problem found.
func Validate(conf *SchedulerConfig) error {
	if conf == nil {
		return fmt.Errorf("config is nil")
	}
	var result *multierror.Error
	if conf.Horizon <= 0 {
		result = multierror.Append(result, fmt.Errorf("horizon must be positive, got %d", conf.Horizon))
	}
	if conf.Interval < 0 {
		result = multierror.Append(result, fmt.Errorf("negative pass interval %s", conf.Interval))
	}
	result = multierror.Append(result,
		checkHierarchy(&conf.Hierarchy),
		checkPolicies(&conf.Policies),
		checkQuotas(&conf.Quotas))
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	log.Log(log.Config).Debug("scheduler configuration valid",
		zap.Strings("levels", conf.Hierarchy.Levels),
		zap.String("defaultPolicy", conf.Policies.Default))
	return nil
}
