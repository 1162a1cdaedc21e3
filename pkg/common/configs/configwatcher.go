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
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
)

// SchedulerConfigLoader reads a configuration file, replaced in tests.
var SchedulerConfigLoader = LoadSchedulerConfigFromFile

// ConfigWatcher polls a configuration file and calls the reloader when its checksum changes.
// It stops when Stop is called or when the expiration time is reached, zero means never.
type ConfigWatcher struct {
	path       string
	reloader   ConfigReloader
	interval   time.Duration
	expireTime time.Duration
	soloChan   chan interface{}
	quit       chan struct{}
	lock       *locking.Mutex
}

// interface for the actual reload function
type ConfigReloader interface {
	DoReloadConfiguration(conf *SchedulerConfig) error
}

func CreateConfigWatcher(path string, interval, expiration time.Duration) *ConfigWatcher {
	return &ConfigWatcher{
		path:       path,
		interval:   interval,
		expireTime: expiration,
		soloChan:   make(chan interface{}, 1),
		quit:       make(chan struct{}),
		lock:       &locking.Mutex{},
	}
}

func (cw *ConfigWatcher) RegisterCallback(reloader ConfigReloader) {
	cw.lock.Lock()
	defer cw.lock.Unlock()
	cw.reloader = reloader
}

// returns true if config file state remains same,
// returns false if config file state changes
func (cw *ConfigWatcher) runOnce() bool {
	cw.lock.Lock()
	defer cw.lock.Unlock()

	newConfig, err := SchedulerConfigLoader(cw.path)
	if err != nil {
		log.Log(log.Config).Warn("failed to load configuration file, ignore reloading configuration",
			zap.String("path", cw.path),
			zap.Error(err))
		return true
	}
	current := ConfigContext.Get()
	if current != nil && newConfig.Checksum == current.Checksum {
		log.Log(log.Config).Debug("configuration file unchanged")
		return true
	}
	log.Log(log.Config).Info("configuration file changed",
		zap.String("checksum", newConfig.Checksum))
	if cw.reloader == nil {
		return false
	}
	if err = cw.reloader.DoReloadConfiguration(newConfig); err != nil {
		log.Log(log.Config).Warn("configuration reload failed", zap.Error(err))
		return false
	}
	ConfigContext.Set(newConfig)
	log.Log(log.Config).Debug("configuration is successfully reloaded")
	return false
}

// if configWatcher is not running, kick-off running it
// if configWatcher is already running, this is a noop
func (cw *ConfigWatcher) Run() {
	select {
	case cw.soloChan <- 0:
		ticker := time.NewTicker(cw.interval)
		var expired <-chan time.Time
		if cw.expireTime > 0 {
			expired = time.After(cw.expireTime)
		}
		go func() {
			defer func() {
				ticker.Stop()
				<-cw.soloChan
			}()
			for {
				select {
				case <-ticker.C:
					cw.runOnce()
				case <-expired:
					return
				case <-cw.quit:
					return
				}
			}
		}()
	default:
		log.Log(log.Config).Info("config watcher is already running")
	}
}

// Stop ends a running watcher, it cannot be restarted.
func (cw *ConfigWatcher) Stop() {
	cw.lock.Lock()
	defer cw.lock.Unlock()
	select {
	case <-cw.quit:
	default:
		close(cw.quit)
	}
}
