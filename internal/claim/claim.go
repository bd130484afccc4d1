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

// Package claim implements the at-most-one-worker-per-batch guarantee
// over a shared batch registry table: claiming the next eligible
// batch, finalizing it, and reaping stale leases left by crashed
// workers.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/notify"
	"github.com/acme-corp/extractd/internal/util/retry"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config configures a Manager.
type Config struct {
	Pool  types.Querier
	Table string // Fully-qualified batch registry table name.

	// Priorities maps businessCenter to an integer priority, used to
	// materialize Batch.Priority on rows that were inserted without
	// one. A nil or empty map leaves NULL priorities untouched (they
	// sort last).
	Priorities *notify.Var[map[string]int32]

	LeaseTTL time.Duration
}

// Manager implements the claim-and-lease protocol described for the
// batch registry: claimNext, complete, fail, and reapStale.
type Manager struct {
	cfg Config
	sql struct {
		materialize string
		claim       string
		complete    string
		fail        string
		reapStale   string
	}
}

// New constructs a Manager bound to cfg.Table.
func New(cfg Config) (*Manager, error) {
	if cfg.Pool == nil {
		return nil, errors.New("claim: pool must not be nil")
	}
	if cfg.Table == "" {
		return nil, errors.New("claim: table must be set")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, errors.New("claim: LeaseTTL must be positive")
	}
	if cfg.Priorities == nil {
		cfg.Priorities = notify.VarOf(map[string]int32(nil))
	}
	m := &Manager{cfg: cfg}
	m.sql.materialize = fmt.Sprintf(materializeTemplate, cfg.Table)
	m.sql.claim = fmt.Sprintf(claimTemplate, cfg.Table)
	m.sql.complete = fmt.Sprintf(completeTemplate, cfg.Table)
	m.sql.fail = fmt.Sprintf(failTemplate, cfg.Table)
	m.sql.reapStale = fmt.Sprintf(reapStaleTemplate, cfg.Table)
	return m, nil
}

// materializeTemplate fills in a NULL priority column from the
// businessCenterPriorities mapping, using an unnest-the-arrays subquery
// join so the whole mapping can be applied in one statement. Once a
// row's priority is materialized it is stable for the rest of that
// batch's lifetime.
//
//	$1 = businessCenter array
//	$2 = priority array, same length and order as $1
const materializeTemplate = `
UPDATE %[1]s AS b SET priority = v.priority
FROM (SELECT unnest($1::text[]) AS business_center, unnest($2::int[]) AS priority) AS v
WHERE b.business_center = v.business_center AND b.priority IS NULL AND b.status = 'PENDING'
`

// claimTemplate atomically selects and leases the next eligible
// batch. FOR UPDATE SKIP LOCKED lets concurrent claimers skip rows
// already locked by another in-flight claim instead of blocking on
// them, which is what guarantees two concurrent calls never return
// the same batch.
//
//	$1 = now
//	$2 = leaseTTL cutoff (now - leaseTTL)
//	$3 = workerID
const claimTemplate = `
WITH candidate AS (
  SELECT id FROM %[1]s
  WHERE (status = 'PENDING' AND (lease_holder IS NULL OR leased_at IS NULL))
     OR (status = 'PROCESSING' AND leased_at < $2)
  ORDER BY priority DESC NULLS LAST, created_at ASC, id ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s SET status = 'PROCESSING', lease_holder = $3, leased_at = $1, updated_at = $1
WHERE id IN (SELECT id FROM candidate)
RETURNING id, business_center, mode
`

// completeTemplate clears the lease and marks the batch COMPLETED,
// but only if the caller's workerID still matches lease_holder.
//
//	$1 = now, $2 = masterID, $3 = workerID
const completeTemplate = `
UPDATE %[1]s SET status = 'COMPLETED', lease_holder = NULL, leased_at = NULL, updated_at = $1
WHERE id = $2 AND lease_holder = $3
`

// failTemplate is the same conditional-update shape as complete, but
// also records a truncated error message.
//
//	$1 = now, $2 = masterID, $3 = workerID, $4 = errorMessage
const failTemplate = `
UPDATE %[1]s SET status = 'FAILED', lease_holder = NULL, leased_at = NULL, updated_at = $1, error_message = $4
WHERE id = $2 AND lease_holder = $3
`

// reapStaleTemplate returns abandoned leases to PENDING.
//
//	$1 = now, $2 = leaseTTL cutoff
const reapStaleTemplate = `
UPDATE %[1]s SET status = 'PENDING', lease_holder = NULL, leased_at = NULL, updated_at = $1
WHERE status = 'PROCESSING' AND leased_at < $2
`

// errorMessageCap bounds the length of a stored error message.
const errorMessageCap = 2000

// ClaimNext attempts to lease the next eligible batch for workerID.
// It returns a [*types.ClaimUnavailableError] if no batch is eligible.
func (m *Manager) ClaimNext(ctx context.Context, workerID string) (*types.Lease, error) {
	if err := m.materializePriorities(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.Add(-m.cfg.LeaseTTL)

	var id int64
	var businessCenter string
	var mode types.Mode
	err := retry.Retry(ctx, func(ctx context.Context) error {
		return m.cfg.Pool.QueryRow(ctx, m.sql.claim, now, cutoff, workerID).Scan(&id, &businessCenter, &mode)
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &types.ClaimUnavailableError{}
	case err != nil:
		return nil, &types.StoreUnavailableError{Cause: err}
	}

	claimsTotal.WithLabelValues(businessCenter).Inc()
	log.WithFields(log.Fields{
		"masterId": id, "businessCenter": businessCenter, "workerId": workerID,
	}).Debug("claimed batch")

	lease := types.NewLease(ctx, id, businessCenter, mode, workerID, now.Add(m.cfg.LeaseTTL))
	activeLeases.Inc()

	// A keep-alive that never arrives: if the lease isn't completed or
	// failed by its own expiration, cancel its context so a batch
	// processor mid-stream observes the same cooperative cancellation
	// signal it would see from an outer shutdown, rather than learning
	// about the lost lease only when it calls Complete.
	time.AfterFunc(m.cfg.LeaseTTL, lease.Release)
	return lease, nil
}

// materializePriorities pushes the current businessCenterPriorities
// map into any PENDING rows whose priority is still NULL.
func (m *Manager) materializePriorities(ctx context.Context) error {
	priorities, _ := m.cfg.Priorities.Get()
	if len(priorities) == 0 {
		return nil
	}
	centers := make([]string, 0, len(priorities))
	values := make([]int32, 0, len(priorities))
	for center, priority := range priorities {
		centers = append(centers, center)
		values = append(values, priority)
	}
	return retry.Retry(ctx, func(ctx context.Context) error {
		_, err := m.cfg.Pool.Exec(ctx, m.sql.materialize, centers, values)
		return err
	})
}

// Complete marks lease's batch COMPLETED and releases the lease. If
// the lease was lost (another worker reaped and re-claimed the
// batch), returns a [*types.LostLeaseError] and the caller must
// discard its produced file.
func (m *Manager) Complete(ctx context.Context, lease *types.Lease) error {
	defer lease.Release()
	defer activeLeases.Dec()

	tag, err := m.execRetry(ctx, m.sql.complete, time.Now().UTC(), lease.MasterID, lease.WorkerID)
	if err != nil {
		return err
	}
	if tag == 0 {
		return &types.LostLeaseError{MasterID: lease.MasterID}
	}
	completionsTotal.WithLabelValues(lease.BusinessCenter).Inc()
	return nil
}

// Fail marks lease's batch FAILED with a truncated errorMessage and
// releases the lease.
func (m *Manager) Fail(ctx context.Context, lease *types.Lease, errorMessage string) error {
	defer lease.Release()
	defer activeLeases.Dec()

	if len(errorMessage) > errorMessageCap {
		errorMessage = errorMessage[:errorMessageCap]
	}
	tag, err := m.execRetry(ctx, m.sql.fail, time.Now().UTC(), lease.MasterID, lease.WorkerID, errorMessage)
	if err != nil {
		return err
	}
	if tag == 0 {
		return &types.LostLeaseError{MasterID: lease.MasterID}
	}
	failuresTotal.WithLabelValues(lease.BusinessCenter).Inc()
	return nil
}

// ReapStale returns every PROCESSING batch whose lease is older than
// LeaseTTL to PENDING, and reports how many rows were affected. It is
// safe to call concurrently and on any cadence.
func (m *Manager) ReapStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-m.cfg.LeaseTTL)
	tag, err := m.execRetry(ctx, m.sql.reapStale, now, cutoff)
	if err != nil {
		return 0, err
	}
	if tag > 0 {
		reapedTotal.Add(float64(tag))
		log.WithField("count", tag).Info("reaped stale leases")
	}
	return tag, nil
}

func (m *Manager) execRetry(ctx context.Context, sql string, args ...any) (int64, error) {
	var rowsAffected int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := m.cfg.Pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, &types.StoreUnavailableError{Cause: err}
	}
	return rowsAffected, nil
}
