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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/quotas"
)

const quotasJSON = `{
  "periodical": [
    ["* mon-wed * *", "quotas_1", "test1"],
    ["* thu-sun * *", "quotas_2", "test2"]
  ],
  "quotas_1": {"*,*,*,john": [10,-1,-1], "*,projA,*,*": [20,-1,-1]},
  "quotas_2": {"*,*,*,lili": [20,-1,-1], "*,projB,*,*": [15,-1,-1]}
}`

func TestLoadDefaultConfig(t *testing.T) {
	conf, err := LoadSchedulerConfigFromByteArray([]byte(DefaultSchedulerConfig))
	assert.NilError(t, err, "default configuration must be valid")
	assert.Equal(t, DefaultHorizon, conf.Horizon)
	assert.Equal(t, DefaultPassInterval, conf.Interval)
	assert.DeepEqual(t, []string{"network_address", "cpu", "core"}, conf.Hierarchy.Levels)
	assert.Equal(t, "network_address", conf.Hierarchy.NodeLevel)
	assert.Equal(t, "cpu", conf.Hierarchy.SocketLevel)
	assert.Equal(t, "core", conf.Hierarchy.CoreLevel)
	assert.Equal(t, DefaultPolicy, conf.Policies.Default)
	assert.DeepEqual(t, DefaultWeights, conf.Policies.Weights)
	assert.Equal(t, DefaultHistoryDepth, conf.Policies.HistoryDepth)
	assert.Equal(t, quotas.DefaultPeriod, conf.Quotas.Period)
	assert.Assert(t, !conf.Quotas.Enabled)
	assert.Equal(t, 64, len(conf.Checksum))
}

func TestConfigChecksum(t *testing.T) {
	content := "hierarchy:\n  levels: [network_address, core]\nhorizon: 3600\ninterval: 10s\n"
	conf, err := LoadSchedulerConfigFromByteArray([]byte(content))
	assert.NilError(t, err)
	assert.Equal(t, int64(3600), conf.Horizon)
	assert.Equal(t, 10*time.Second, conf.Interval)
	assert.Equal(t, "", conf.Hierarchy.SocketLevel, "no cpu level, no socket level")

	withChecksum, err := LoadSchedulerConfigFromByteArray([]byte(content + "checksum: " + conf.Checksum))
	assert.NilError(t, err)
	assert.Equal(t, conf.Checksum, withChecksum.Checksum, "the checksum line is not part of the checksum")

	changed, err := LoadSchedulerConfigFromByteArray([]byte(content + "policies:\n  default: compact\n"))
	assert.NilError(t, err)
	assert.Assert(t, changed.Checksum != conf.Checksum)
}

func TestConfigParseErrors(t *testing.T) {
	_, err := LoadSchedulerConfigFromByteArray([]byte("hierarchy:\n  levels: [core]\nunknown: 1\n"))
	assert.ErrorContains(t, err, "field unknown not found")

	_, err = LoadSchedulerConfigFromByteArray([]byte(""))
	assert.ErrorContains(t, err, "hierarchy has no levels")

	content := `
hierarchy:
  levels: [network_address, core, core, "bad-name"]
  socketlevel: socket
horizon: -5
policies:
  default: bogus
  weights: [1, 2]
  historydepth: -1
quotas:
  enabled: true
  timezone: Nowhere/Nothing
  file: quotas.json
  rules:
    quotas: {}
`
	_, err = LoadSchedulerConfigFromByteArray([]byte(content))
	for _, msg := range []string{
		"horizon must be positive",
		`duplicate level "core"`,
		`invalid level name "bad-name"`,
		`socket level "socket" is not a hierarchy level`,
		`unknown default policy "bogus"`,
		"expected 3 characterization weights",
		"negative history depth",
		"quotas timezone",
		"both inline and in file",
	} {
		assert.ErrorContains(t, err, msg)
	}
}

func TestInlineQuotas(t *testing.T) {
	content := `
hierarchy:
  levels: [network_address, cpu, core]
quotas:
  enabled: true
  period: 1814400
  timezone: UTC
  rules: ` + strings.ReplaceAll(quotasJSON, "\n", "\n    ") + "\n"
	conf, err := LoadSchedulerConfigFromByteArray([]byte(content))
	assert.NilError(t, err)
	rules, err := conf.QuotaRules("")
	assert.NilError(t, err)
	assert.Equal(t, 2, len(rules.Periodical))
	assert.Equal(t, 2, len(rules.RuleSets))

	manager := quotas.NewManager()
	assert.NilError(t, conf.LoadQuotas(manager, ""))
	q := manager.Current()
	assert.Assert(t, q.Temporal())
	assert.Equal(t, int64(1814400), q.Calendar().Period())
	assert.Equal(t, time.UTC, q.Calendar().Location())

	conf.Quotas.Enabled = false
	assert.NilError(t, conf.LoadQuotas(manager, ""))
	assert.Assert(t, !manager.Current().Enabled())
}

func TestQuotasFile(t *testing.T) {
	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "quotas.json"), []byte(quotasJSON), 0o600))
	content := "hierarchy:\n  levels: [core]\nquotas:\n  enabled: true\n  timezone: UTC\n  file: quotas.json\n"
	conf, err := LoadSchedulerConfigFromByteArray([]byte(content))
	assert.NilError(t, err)

	manager := quotas.NewManager()
	assert.NilError(t, conf.LoadQuotas(manager, dir))
	assert.Assert(t, manager.Current().Temporal())

	// a missing file disables quotas, the configuration stays usable
	err = conf.LoadQuotas(manager, t.TempDir())
	assert.Assert(t, common.IsConfigurationError(err))
	assert.Assert(t, !manager.Current().Enabled())

	// so do rules naming an undefined rule set
	bad := `{"periodical": [["* * * *", "missing"]]}`
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "quotas.json"), []byte(bad), 0o600))
	err = conf.LoadQuotas(manager, dir)
	assert.ErrorContains(t, err, `rule set "missing" is not defined`)
	assert.Assert(t, !manager.Current().Enabled())
}

func TestConfigContext(t *testing.T) {
	conf := &SchedulerConfig{Checksum: "ABC"}
	ConfigContext.Set(conf)
	assert.Equal(t, conf, ConfigContext.Get())
	ConfigContext.Set(nil)
	assert.Assert(t, ConfigContext.Get() == nil)
}

func TestPolicyOptions(t *testing.T) {
	content := "hierarchy:\n  levels: [switch, network_address, cpu, core]\n  nodelevel: network_address\npolicies:\n  default: compact_w\n  weights: [1, 5, 2]\n"
	conf, err := LoadSchedulerConfigFromByteArray([]byte(content))
	assert.NilError(t, err)
	opts := conf.PolicyOptions()
	assert.Equal(t, "network_address", opts.NodeLevel)
	assert.Equal(t, "cpu", opts.SocketLevel)
	assert.Equal(t, "core", opts.CoreLevel)
	assert.Equal(t, [3]float64{1, 5, 2}, opts.Weights)
}
