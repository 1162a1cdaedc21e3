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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/entrypoint"
	"github.com/kao-sched/kao-core/pkg/log"
)

type serveCmd struct {
	tracing bool
}

func (s *serveCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling loop with the REST service until interrupted",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&s.tracing, "tracing", false, "report scheduling passes to jaeger")
	return cmd
}

func (s *serveCmd) run(c *cli, _ *cobra.Command, _ []string) error {
	if s.tracing {
		if err := os.Setenv(entrypoint.TracingEnv, "true"); err != nil {
			return err
		}
	}
	serviceContext, err := entrypoint.StartAllServices(c.configPath)
	if err != nil {
		return err
	}
	defer serviceContext.StopAll()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Log(log.Core).Info("shutting down scheduler", zap.Stringer("signal", sig))
	return nil
}
