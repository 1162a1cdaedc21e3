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

package entrypoint

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/store"
	"github.com/kao-sched/kao-core/pkg/trace"
	"github.com/kao-sched/kao-core/pkg/webservice"
)

const (
	// TracingEnv enables jaeger tracing of the passes, configured from the jaeger environment
	TracingEnv          = "KAO_TRACING"
	configWatchInterval = 10 * time.Second
)

// options used to control how services are started
type startupOptions struct {
	manualScheduleFlag bool
	startWebAppFlag    bool
	watchConfigFlag    bool
	tracingFlag        bool
	webAddress         string
}

func StartAllServices(configPath string) (*ServiceContext, error) {
	log.Log(log.Core).Info("ServiceContext start all services")
	return startAllServicesWithParameters(configPath,
		startupOptions{
			manualScheduleFlag: false,
			startWebAppFlag:    true,
			watchConfigFlag:    true,
			tracingFlag:        common.GetBoolEnvVar(TracingEnv, false),
			webAddress:         webservice.DefaultAddress,
		})
}

// VisibleForTesting
func StartAllServicesWithParams(configPath string, manualSchedule, withWebapp bool) (*ServiceContext, error) {
	log.Log(log.Core).Info("ServiceContext start all services")
	return startAllServicesWithParameters(configPath,
		startupOptions{
			manualScheduleFlag: manualSchedule,
			startWebAppFlag:    withWebapp,
			webAddress:         webservice.DefaultAddress,
		})
}

func StartAllServicesWithLogger(logger *zap.Logger, zapConfigs *zap.Config, configPath string) (*ServiceContext, error) {
	log.InitializeLogger(logger, zapConfigs)
	return StartAllServices(configPath)
}

// Visible by tests
func StartAllServicesWithManualScheduler(configPath string) (*ServiceContext, error) {
	log.Log(log.Core).Info("ServiceContext start all services (manual scheduler)")
	return startAllServicesWithParameters(configPath,
		startupOptions{
			manualScheduleFlag: true,
		})
}

func startAllServicesWithParameters(configPath string, opts startupOptions) (*ServiceContext, error) {
	conf, err := configs.SchedulerConfigLoader(configPath)
	if err != nil {
		log.Log(log.Core).Error("failed to load scheduler configuration",
			zap.String("path", configPath),
			zap.Error(err))
		return nil, err
	}
	configs.ConfigContext.Set(conf)
	baseDir := filepath.Dir(configPath)

	st, err := store.New()
	if err != nil {
		return nil, err
	}
	manager := quotas.NewManager()
	if err = conf.LoadQuotas(manager, baseDir); err != nil {
		log.Log(log.Core).Warn("scheduling without quotas", zap.Error(err))
	}

	tracer := trace.NewNoopSchedulerTracer()
	if opts.tracingFlag {
		if tracer, err = trace.NewSchedulerTracer(trace.Sampling); err != nil {
			return nil, err
		}
	}
	sched, err := scheduler.New(st, manager, tracer, scheduler.ConfigFrom(conf))
	if err != nil {
		tracer.Close()
		return nil, err
	}

	context := newServiceContext(st, manager, sched, tracer, baseDir)
	if err = context.restoreCounters(); err != nil {
		context.StopAll()
		return nil, err
	}

	// start services
	if !opts.manualScheduleFlag {
		log.Log(log.Core).Info("ServiceContext start scheduling loop",
			zap.Duration("interval", conf.Interval))
		context.startSchedulingLoop(conf.Interval)
	}

	if opts.watchConfigFlag {
		log.Log(log.Core).Info("ServiceContext start configuration watcher",
			zap.String("path", configPath))
		context.watcher = configs.CreateConfigWatcher(configPath, configWatchInterval, 0)
		context.watcher.RegisterCallback(context)
		context.watcher.Run()
	}

	if opts.startWebAppFlag {
		log.Log(log.Core).Info("ServiceContext start web application service")
		webapp := webservice.NewWebApp(sched, st, opts.webAddress)
		webapp.StartWebApp()
		context.WebApp = webapp
	}

	return context, nil
}
