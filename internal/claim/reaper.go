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

package claim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/retry"
	"github.com/acme-corp/extractd/internal/util/stopper"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const reaperLockName = "reap"

// Reaper runs [Manager.ReapStale] on a periodic cadence. reapStale is
// safe to run redundantly from every worker, but doing so produces
// noisy, duplicated reap-count metrics and log lines; Reaper uses a
// short-lived singleton lock so that only one worker in the fleet
// performs the sweep on a given tick. The lock is a single
// acquire-then-run round trip per tick rather than a
// continuously-renewed lease, since a missed tick is harmless (the
// next tick, run by whichever worker wins the lock, catches up).
type Reaper struct {
	Manager  *Manager
	Pool     types.Querier
	Table    string // lock table, distinct from the batch registry
	Interval time.Duration

	sql struct {
		acquire string
	}
}

// EnsureSchema creates the lock table used to coordinate reap sweeps
// if it does not already exist.
func (r *Reaper) EnsureSchema(ctx context.Context) error {
	r.sql.acquire = fmt.Sprintf(reaperAcquireTemplate, r.Table)
	_, err := r.Pool.Exec(ctx, fmt.Sprintf(reaperSchemaTemplate, r.Table))
	return errors.WithStack(err)
}

const reaperSchemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
  name text PRIMARY KEY,
  expires timestamptz NOT NULL
)`

// reaperAcquireTemplate attempts to extend or create the named lock
// row. It only succeeds (returns a row) if the row was absent or
// already expired.
//
//	$1 = name, $2 = new expiration, $3 = now
const reaperAcquireTemplate = `
INSERT INTO %[1]s (name, expires)
SELECT $1, $2
WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE name = $1 AND expires > $3)
ON CONFLICT (name) DO UPDATE SET expires = EXCLUDED.expires
RETURNING expires
`

// Run registers the reap loop with ctx and returns immediately. The
// loop exits when ctx is stopped.
func (r *Reaper) Run(ctx *stopper.Context) {
	ctx.Go(func() error {
		t := time.NewTimer(r.jitter())
		defer t.Stop()
		for {
			select {
			case <-ctx.Stopping():
				return nil
			case <-t.C:
			}
			r.tick(ctx)
			t.Reset(r.jitter())
		}
	})
}

func (r *Reaper) jitter() time.Duration {
	return r.Interval + time.Duration(rand.Int63n(int64(r.Interval)/2+1))
}

func (r *Reaper) tick(ctx context.Context) {
	if err := r.tryAcquire(ctx); err != nil {
		if busy, ok := types.IsLeaseBusy(err); ok {
			log.WithField("until", busy.Expiration).Trace("reaper: sweep already claimed by another worker")
			return
		}
		log.WithError(err).Warn("reaper: could not acquire sweep lock")
		return
	}
	if _, err := r.Manager.ReapStale(ctx); err != nil {
		log.WithError(err).Warn("reaper: sweep failed")
	}
}

// tryAcquire wins the sweep lock for the current tick, or returns a
// [*types.LeaseBusyError] naming when the current holder's claim
// expires.
func (r *Reaper) tryAcquire(ctx context.Context) error {
	now := time.Now().UTC()
	expires := now.Add(r.Interval)
	var got time.Time
	var rowFound bool
	err := retry.Retry(ctx, func(ctx context.Context) error {
		err := r.Pool.QueryRow(ctx, r.sql.acquire, reaperLockName, expires, now).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			rowFound = false
			return nil
		}
		rowFound = err == nil
		return err
	})
	if err != nil {
		return &types.StoreUnavailableError{Cause: err}
	}
	if rowFound {
		return nil
	}

	busy := &types.LeaseBusyError{Expiration: now.Add(r.Interval)}
	var held time.Time
	if qerr := r.Pool.QueryRow(ctx, fmt.Sprintf(reaperHeldTemplate, r.Table), reaperLockName).Scan(&held); qerr == nil {
		busy.Expiration = held
	}
	return busy
}

// reaperHeldTemplate reads back the current holder's expiration for a
// contested lock, best-effort, to annotate LeaseBusyError.
//
//	$1 = name
const reaperHeldTemplate = `SELECT expires FROM %[1]s WHERE name = $1`
