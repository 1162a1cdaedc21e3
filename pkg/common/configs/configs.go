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
	"github.com/kao-sched/kao-core/pkg/locking"
)

const (
	SchedulerConfigPath        = "scheduler-config-path"
	DefaultSchedulerConfigPath = "/etc/kao/scheduler.yaml"
)

var ConfigContext *SchedulerConfigContext

func init() {
	ConfigContext = &SchedulerConfigContext{
		lock: &locking.RWMutex{},
	}
}

// scheduler config context provides thread-safe access to the active scheduler configuration
type SchedulerConfigContext struct {
	config *SchedulerConfig
	lock   *locking.RWMutex
}

func (ctx *SchedulerConfigContext) Set(config *SchedulerConfig) {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()
	ctx.config = config
}

func (ctx *SchedulerConfigContext) Get() *SchedulerConfig {
	ctx.lock.RLock()
	defer ctx.lock.RUnlock()
	return ctx.config
}
