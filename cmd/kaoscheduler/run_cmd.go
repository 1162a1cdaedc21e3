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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kao-sched/kao-core/pkg/common/configs"
	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
	"github.com/kao-sched/kao-core/pkg/store"
)

// platformState is the input of a single pass: the inventory, the jobs already running and the
// pending jobs in submission order.
type platformState struct {
	Inventory []hierarchy.Resource  `yaml:"inventory"`
	Running   []*objects.Assignment `yaml:"running,omitempty"`
	Jobs      []*objects.Job        `yaml:"jobs"`
}

type runCmd struct {
	statePath string
	now       int64
	output    string
}

func (r *runCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduling pass over a platform state file and print the result",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&r.statePath, "state", "", "platform state file: inventory, running assignments and jobs")
	cmd.Flags().Int64Var(&r.now, "now", 0, "start of the pass in epoch seconds, defaults to the current time")
	cmd.Flags().StringVarP(&r.output, "output", "o", "yaml", "output format: yaml or json")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func (r *runCmd) run(c *cli, cmd *cobra.Command, _ []string) error {
	if r.output != "yaml" && r.output != "json" {
		return fmt.Errorf("unknown output format %q", r.output)
	}
	conf, err := configs.LoadSchedulerConfigFromFile(c.configPath)
	if err != nil {
		return errors.Wrapf(err, "loading configuration %s", c.configPath)
	}
	state, err := readState(r.statePath)
	if err != nil {
		return err
	}
	now := r.now
	if now == 0 {
		now = time.Now().Unix()
	}
	result, err := runPass(cmd.Context(), conf, filepath.Dir(c.configPath), state, now)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), r.output, result)
}

func readState(path string) (*platformState, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state := &platformState{}
	if err = yaml.Unmarshal(content, state); err != nil {
		return nil, errors.Wrapf(err, "parsing platform state %s", path)
	}
	return state, nil
}

// runPass loads the state in a fresh store and schedules its pending jobs once.
func runPass(ctx context.Context, conf *configs.SchedulerConfig, baseDir string, state *platformState, now int64) (*scheduler.PassResult, error) {
	st, err := store.New()
	if err != nil {
		return nil, err
	}
	if err = st.SetInventory(state.Inventory); err != nil {
		return nil, err
	}
	if err = st.AddAssignments(state.Running...); err != nil {
		return nil, err
	}
	if err = st.Submit(state.Jobs...); err != nil {
		return nil, err
	}
	manager := quotas.NewManager()
	if err = conf.LoadQuotas(manager, baseDir); err != nil {
		return nil, err
	}
	sched, err := scheduler.New(st, manager, nil, scheduler.ConfigFrom(conf))
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return sched.Schedule(ctx, now, nil)
}

func writeResult(w io.Writer, format string, result *scheduler.PassResult) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	return encoder.Encode(result)
}
