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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WithIdleTimeout closes pooled connections that have sat idle longer
// than d (datasource.idleTimeoutMs).
func WithIdleTimeout(d time.Duration) Option { return &withIdleTimeout{d} }

type withIdleTimeout struct{ d time.Duration }

func (o *withIdleTimeout) option() {}
func (o *withIdleTimeout) pgxPoolConfig(_ context.Context, cfg *pgxpool.Config) error {
	cfg.MaxConnIdleTime = o.d
	return nil
}

// WithConnectTimeout bounds how long a new physical connection attempt
// may take (datasource.connectionTimeoutMs).
func WithConnectTimeout(d time.Duration) Option { return &withConnectTimeout{d} }

type withConnectTimeout struct{ d time.Duration }

func (o *withConnectTimeout) option() {}
func (o *withConnectTimeout) pgxPoolConfig(_ context.Context, cfg *pgxpool.Config) error {
	cfg.ConnConfig.ConnectTimeout = o.d
	return nil
}
