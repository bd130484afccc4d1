// Copyright 2023 The Cockroach Authors
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

package stdpool

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Option abstracts over pool configuration. There is exactly one
// upstream driver in play, so this collapses to a single
// pgxPoolConfigOption capability rather than a dispatch table across
// driver-specific option kinds.
type Option interface {
	option()
	pgxPoolConfig(ctx context.Context, cfg *pgxpool.Config) error
}

// attachOptions loops over the provided options to compose their
// functionality onto cfg.
func attachOptions(ctx context.Context, cfg *pgxpool.Config, options []Option) error {
	// Prepend reasonable defaults.
	options = append([]Option{&withConnectionLifetime{}}, options...)
	for _, option := range options {
		if err := option.pgxPoolConfig(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
