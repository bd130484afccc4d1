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

package types

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolInfo carries metadata about a connected pool that's useful for
// logging and diagnostics but not part of the query surface.
type PoolInfo struct {
	ConnectionString string
	Version          string
}

// Pool is the store gateway's handle on the database: a pgx connection
// pool plus the metadata collected at connect time. It embeds
// *pgxpool.Pool directly so callers may use pgx's native Query/Exec/
// Begin when the higher-level Store API in internal/store isn't a fit
// (e.g. tests standing up fixtures).
type Pool struct {
	*pgxpool.Pool
	PoolInfo
}

// Querier is the minimal exec/query surface the claim registry and
// reap lock need from a connection pool. *Pool satisfies it directly;
// tests can supply a narrower fake instead of standing up a real
// database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
