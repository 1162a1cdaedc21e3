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
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kao-sched/kao-core/pkg/common"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/metrics"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler/policies"
)

const (
	DefaultHorizon      = int64(2592000) // 30 days
	DefaultPolicy       = "no_pref"
	DefaultSocketLevel  = "cpu"
	DefaultHistoryDepth = 100
	DefaultPassInterval = 30 * time.Second
)

// DefaultWeights of the characterization classes: unfriendly, friendly, neutral.
var DefaultWeights = []float64{0, 2, 1}

// SchedulerConfig is the complete scheduler configuration.
type SchedulerConfig struct {
	Hierarchy HierarchyConfig
	Horizon   int64          `yaml:",omitempty" json:",omitempty"`
	Interval  time.Duration  `yaml:",omitempty" json:",omitempty"`
	Policies  PoliciesConfig `yaml:",omitempty" json:",omitempty"`
	Quotas    QuotasConfig   `yaml:",omitempty" json:",omitempty"`
	Checksum  string         `yaml:",omitempty" json:",omitempty"`
}

// The resource hierarchy:
// - the level names, coarse to fine, each is a resource attribute
// - the node level: the whole host, target of exclusive requests
// - the socket level: unit of core withholding of the spread policies, empty disables it
// - the core level: the level of core counts rewritten by exclusive requests
type HierarchyConfig struct {
	Levels      []string
	NodeLevel   string `yaml:",omitempty" json:",omitempty"`
	SocketLevel string `yaml:",omitempty" json:",omitempty"`
	CoreLevel   string `yaml:",omitempty" json:",omitempty"`
}

// The placement policies:
// - the policy used for jobs without a policy type or hint
// - characterization weights of unfriendly, friendly and neutral nodes
// - number of past assignments read to characterize nodes
type PoliciesConfig struct {
	Default      string    `yaml:",omitempty" json:",omitempty"`
	Weights      []float64 `yaml:",omitempty" json:",omitempty"`
	HistoryDepth int       `yaml:",omitempty" json:",omitempty"`
}

// The quotas:
// - enabled flag
// - calendar period in seconds
// - time zone of the calendar rules
// - rules inline or in a separate yaml or json file
type QuotasConfig struct {
	Enabled  bool                `yaml:",omitempty" json:",omitempty"`
	Period   int64               `yaml:",omitempty" json:",omitempty"`
	Timezone string              `yaml:",omitempty" json:",omitempty"`
	File     string              `yaml:",omitempty" json:",omitempty"`
	Rules    *quotas.RulesConfig `yaml:",omitempty" json:"-"`
}

func LoadSchedulerConfigFromByteArray(content []byte) (*SchedulerConfig, error) {
	conf, err := ParseAndValidateConfig(content)
	if err != nil {
		return nil, err
	}
	// Create a sha256 checksum for this validated config
	SetChecksum(content, conf)
	return conf, nil
}

// LoadSchedulerConfigFromFile reads and validates a configuration file.
func LoadSchedulerConfigFromFile(path string) (*SchedulerConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSchedulerConfigFromByteArray(content)
}

func SetChecksum(content []byte, conf *SchedulerConfig) {
	noChecksumContent := GetConfigurationString(content)
	conf.Checksum = fmt.Sprintf("%X", sha256.Sum256([]byte(noChecksumContent)))
}

func ParseAndValidateConfig(content []byte) (*SchedulerConfig, error) {
	conf := &SchedulerConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true) // Enable strict unmarshaling behavior
	err := decoder.Decode(conf)
	if err != nil && !errors.Is(err, io.EOF) { // empty content may have EOF error, skip it
		log.Log(log.Config).Error("failed to parse scheduler configuration",
			zap.Error(err))
		return nil, err
	}
	applyDefaults(conf)
	if err = Validate(conf); err != nil {
		log.Log(log.Config).Error("scheduler configuration validation failed",
			zap.Error(err))
		return nil, err
	}
	return conf, nil
}

func applyDefaults(conf *SchedulerConfig) {
	if conf.Horizon == 0 {
		conf.Horizon = DefaultHorizon
	}
	if conf.Interval == 0 {
		conf.Interval = DefaultPassInterval
	}
	h := &conf.Hierarchy
	if len(h.Levels) > 0 {
		if h.NodeLevel == "" {
			h.NodeLevel = h.Levels[0]
		}
		if h.CoreLevel == "" {
			h.CoreLevel = h.Levels[len(h.Levels)-1]
		}
		if h.SocketLevel == "" {
			for _, level := range h.Levels {
				if level == DefaultSocketLevel {
					h.SocketLevel = DefaultSocketLevel
				}
			}
		}
	}
	if conf.Policies.Default == "" {
		conf.Policies.Default = DefaultPolicy
	}
	if len(conf.Policies.Weights) == 0 {
		conf.Policies.Weights = append([]float64{}, DefaultWeights...)
	}
	if conf.Policies.HistoryDepth == 0 {
		conf.Policies.HistoryDepth = DefaultHistoryDepth
	}
	if conf.Quotas.Period == 0 {
		conf.Quotas.Period = quotas.DefaultPeriod
	}
}

func GetConfigurationString(requestBytes []byte) string {
	conf := string(requestBytes)
	checksum := "checksum: "
	checksumLength := 64 + len(checksum)
	if strings.Contains(conf, checksum) {
		checksum += strings.Split(conf, checksum)[1]
		checksum = strings.TrimRight(checksum, "\n")
		if len(checksum) > checksumLength {
			checksum = checksum[:checksumLength]
		}
	}
	return strings.ReplaceAll(conf, checksum, "")
}

// QuotaOptions returns the calendar period and location.
func (conf *SchedulerConfig) QuotaOptions() (quotas.Options, error) {
	loc, err := loadLocation(conf.Quotas.Timezone)
	if err != nil {
		return quotas.Options{}, err
	}
	return quotas.Options{Period: conf.Quotas.Period, Location: loc}, nil
}

// QuotaRules returns the inline rules or reads the rules file, relative paths start at baseDir.
func (conf *SchedulerConfig) QuotaRules(baseDir string) (quotas.RulesConfig, error) {
	if conf.Quotas.Rules != nil {
		return *conf.Quotas.Rules, nil
	}
	if conf.Quotas.File == "" {
		return quotas.RulesConfig{}, nil
	}
	path := conf.Quotas.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return quotas.RulesConfig{}, err
	}
	var rules quotas.RulesConfig
	if err = yaml.Unmarshal(content, &rules); err != nil {
		return quotas.RulesConfig{}, err
	}
	return rules, nil
}

// LoadQuotas builds the quotas from the configuration into the manager.
// A quotas failure disables quotas without failing the configuration.
func (conf *SchedulerConfig) LoadQuotas(manager *quotas.Manager, baseDir string) error {
	if !conf.Quotas.Enabled {
		manager.Disable()
		return nil
	}
	opts, err := conf.QuotaOptions()
	if err == nil {
		var rules quotas.RulesConfig
		if rules, err = conf.QuotaRules(baseDir); err == nil {
			return manager.Load(true, rules, opts)
		}
	}
	log.Log(log.Config).Warn("quotas configuration not usable, quotas disabled", zap.Error(err))
	manager.Disable()
	metrics.GetSchedulerMetrics().IncQuotasDisabled()
	return common.NewConfigurationError("quotas", -1, "%v", err)
}

// PolicyOptions returns the options shared by the placement policies.
func (conf *SchedulerConfig) PolicyOptions() policies.Options {
	return policies.Options{
		NodeLevel:   conf.Hierarchy.NodeLevel,
		SocketLevel: conf.Hierarchy.SocketLevel,
		CoreLevel:   conf.Hierarchy.CoreLevel,
		Weights:     policies.WeightsFrom(conf.Policies.Weights),
	}
}

func loadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(name)
	}
}

// DefaultSchedulerConfig contains the default scheduler configuration; used if no other is provided
var DefaultSchedulerConfig = `
hierarchy:
  levels: [network_address, cpu, core]
policies:
  default: no_pref
`
