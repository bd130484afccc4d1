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

// Package stdpool creates standardized database connection pools.
package stdpool

import (
	"context"
	"strings"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/retry"
	"github.com/acme-corp/extractd/internal/util/stopper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OpenPgx uses pgx to open a connection pool against the store,
// returning it as a [types.Pool]. There is exactly one kind of server
// on the other end, so there's a single opener rather than a set of
// product-specific variants.
func OpenPgx(ctx context.Context, connectString string, options ...Option) (*types.Pool, func(), error) {
	return returnOrStop(ctx, func(ctx *stopper.Context) (*types.Pool, error) {
		cfg, err := pgxpool.ParseConfig(connectString)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse %q", connectString)
		}
		if _, found := cfg.ConnConfig.RuntimeParams["application_name"]; !found {
			cfg.ConnConfig.RuntimeParams["application_name"] = "extractd"
		}
		if err := attachOptions(ctx, cfg, options); err != nil {
			return nil, err
		}

		impl, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		ctx.Go(func() error {
			<-ctx.Stopping()
			impl.Close()
			return nil
		})

		ret := &types.Pool{
			Pool: impl,
			PoolInfo: types.PoolInfo{
				ConnectionString: connectString,
			},
		}

		if err := retry.Retry(ctx, func(ctx context.Context) error {
			return ret.QueryRow(ctx, "SELECT version()").Scan(&ret.Version)
		}); err != nil {
			return nil, errors.Wrap(err, "could not determine server version")
		}
		if !strings.Contains(ret.Version, "PostgreSQL") {
			log.WithField("version", ret.Version).Warn("connected to a server that does not self-report as PostgreSQL")
		}

		return ret, nil
	})
}

// returnOrStop creates a [stopper.Context] from the given context and
// passes the stopper to a callback. If the callback returns an error,
// the stopper will be stopped.
func returnOrStop[T any](
	ctx context.Context, fn func(ctx *stopper.Context) (T, error),
) (T, func(), error) {
	stop := stopper.WithContext(ctx)
	cancel := func() {
		stop.Stop(5 * time.Second)
		if err := stop.Wait(); err != nil {
			log.WithError(err).Warn("error while closing database pool")
		}
	}

	ret, err := fn(stop)
	if err != nil {
		cancel()
		return *new(T), nil, err
	}
	return ret, cancel, nil
}
