// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaults fall inside the enumerated bounds of each processor
// setting, plus the usual ABORT_BATCH/STANDARD choices.
var defaults = map[string]any{
	"datasource.max_pool_size":        10,
	"datasource.min_idle":             1,
	"datasource.connection_timeout_ms": 5000,
	"datasource.idle_timeout_ms":      600000,
	"datasource.max_lifetime_ms":      1800000,
	"processor.batch_size":            1000,
	"processor.lease_ttl_seconds":     300,
	"processor.poll_interval_seconds": 5,
	"processor.max_concurrent_masters": 4,
	"processor.output_directory":      "./output",
	"processor.mode":                  "STANDARD",
	"processor.error_policy":          "ABORT_BATCH",
}

// BindFlags registers the handful of values an operator commonly
// overrides at invocation time, following main.go's PersistentFlags
// idiom.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("datasource-url", "", "datasource connection URL")
	flags.String("output-directory", "", "directory batch output files are written to")
	flags.Int("poll-interval-seconds", 0, "worker poll interval, in seconds")
	flags.String("mode", "", "default batch mode [ STANDARD, ENHANCED, STREAMING_JSONB ]")
}

// Load reads cfgFile (if non-empty), overlays EXTRACTD_-prefixed
// environment variables and any bound flags, and decodes the result
// into a Config. It follows the layering in
// chtzvt-certslurp/cmd/certslurpd/config/load.go.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "could not read config file %q", cfgFile)
		}
	}

	v.SetEnvPrefix("EXTRACTD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	if flags != nil {
		bindFlag(v, flags, "datasource-url", "datasource.url")
		bindFlag(v, flags, "output-directory", "processor.output_directory")
		bindFlag(v, flags, "poll-interval-seconds", "processor.poll_interval_seconds")
		bindFlag(v, flags, "mode", "processor.mode")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, flagName, key string) {
	if flag := flags.Lookup(flagName); flag != nil {
		_ = v.BindPFlag(key, flag)
	}
}
