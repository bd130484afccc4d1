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

// Package config models the daemon's entire configuration surface as
// a struct tree decoded by viper, following the pattern in
// chtzvt-certslurp/cmd/certslurpd/config.
package config

import (
	"net/url"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/pkg/errors"
)

// DatasourceConfig names the target Postgres server and its
// connection pool sizing.
type DatasourceConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	MaxPoolSize         int `mapstructure:"max_pool_size"`
	MinIdle             int `mapstructure:"min_idle"`
	ConnectionTimeoutMs int `mapstructure:"connection_timeout_ms"`
	IdleTimeoutMs       int `mapstructure:"idle_timeout_ms"`
	MaxLifetimeMs       int `mapstructure:"max_lifetime_ms"`
}

// ProcessorConfig is the batch-processing tunable surface: cursor
// fetch size, lease lifetime, poll cadence, concurrency bound, output
// location, per-center priority, mode, and row-error policy. Mode is
// validated here but not applied to batches: the processor uses each
// batch's own mode and treats an empty one as STANDARD.
type ProcessorConfig struct {
	BatchSize                int               `mapstructure:"batch_size"`
	LeaseTTLSeconds          int               `mapstructure:"lease_ttl_seconds"`
	PollIntervalSeconds      int               `mapstructure:"poll_interval_seconds"`
	MaxConcurrentMasters     int               `mapstructure:"max_concurrent_masters"`
	OutputDirectory          string            `mapstructure:"output_directory"`
	BusinessCenterPriorities map[string]int32  `mapstructure:"business_center_priorities"`
	Mode                     types.Mode        `mapstructure:"mode"`
	ErrorPolicy              types.ErrorPolicy `mapstructure:"error_policy"`
}

// Config is the root of the configuration tree.
type Config struct {
	Datasource DatasourceConfig `mapstructure:"datasource"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
}

// DSN returns the connection string to hand to stdpool.OpenPgx, with
// User/Password folded in when the URL doesn't already carry
// credentials.
func (d DatasourceConfig) DSN() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid datasource.url %q", d.URL)
	}
	if d.User != "" && u.User == nil {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String(), nil
}

// ConnectionTimeout is ConnectionTimeoutMs as a time.Duration.
func (d DatasourceConfig) ConnectionTimeout() time.Duration {
	return time.Duration(d.ConnectionTimeoutMs) * time.Millisecond
}

// IdleTimeout is IdleTimeoutMs as a time.Duration.
func (d DatasourceConfig) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutMs) * time.Millisecond
}

// MaxLifetime is MaxLifetimeMs as a time.Duration.
func (d DatasourceConfig) MaxLifetime() time.Duration {
	return time.Duration(d.MaxLifetimeMs) * time.Millisecond
}

// LeaseTTL is LeaseTTLSeconds as a time.Duration.
func (p ProcessorConfig) LeaseTTL() time.Duration {
	return time.Duration(p.LeaseTTLSeconds) * time.Second
}

// PollInterval is PollIntervalSeconds as a time.Duration.
func (p ProcessorConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// Validate enforces the bounds enumerated for the processor surface.
// It does not validate the datasource block: malformed connection
// settings surface naturally as a startup dial failure.
func (c *Config) Validate() error {
	p := c.Processor
	switch {
	case p.BatchSize < 100 || p.BatchSize > 10000:
		return errors.Errorf("processor.batch_size must be in [100, 10000], got %d", p.BatchSize)
	case p.LeaseTTLSeconds < 60 || p.LeaseTTLSeconds > 3600:
		return errors.Errorf("processor.lease_ttl_seconds must be in [60, 3600], got %d", p.LeaseTTLSeconds)
	case p.PollIntervalSeconds < 1 || p.PollIntervalSeconds > 60:
		return errors.Errorf("processor.poll_interval_seconds must be in [1, 60], got %d", p.PollIntervalSeconds)
	case p.MaxConcurrentMasters < 1 || p.MaxConcurrentMasters > 100:
		return errors.Errorf("processor.max_concurrent_masters must be in [1, 100], got %d", p.MaxConcurrentMasters)
	case p.OutputDirectory == "":
		return errors.New("processor.output_directory must be set")
	}
	switch p.Mode {
	case types.ModeStandard, types.ModeEnhanced, types.ModeStreamingJSONB, "":
	default:
		return errors.Errorf("processor.mode %q is not one of STANDARD, ENHANCED, STREAMING_JSONB", p.Mode)
	}
	switch p.ErrorPolicy {
	case types.PolicyAbortBatch, types.PolicySkipRow, "":
	default:
		return errors.Errorf("processor.error_policy %q is not one of ABORT_BATCH, SKIP_ROW", p.ErrorPolicy)
	}
	return nil
}
