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
	"testing"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingPool(t *testing.T) {
	_, err := New(Config{Table: "batches", LeaseTTL: time.Minute})
	assert.Error(t, err)
}

func TestNewRejectsMissingTable(t *testing.T) {
	_, err := New(Config{Pool: &types.Pool{}, LeaseTTL: time.Minute})
	assert.Error(t, err)
}

func TestNewRejectsNonPositiveLeaseTTL(t *testing.T) {
	_, err := New(Config{Pool: &types.Pool{}, Table: "batches"})
	assert.Error(t, err)
}

func TestNewFillsInSQLTemplates(t *testing.T) {
	m, err := New(Config{Pool: &types.Pool{}, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, m.sql.claim, "public.batches")
	assert.Contains(t, m.sql.complete, "public.batches")
	assert.Contains(t, m.sql.fail, "public.batches")
	assert.Contains(t, m.sql.reapStale, "public.batches")
}

func TestClaimNextReturnsClaimUnavailableOnNoEligibleRow(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	_, err = m.ClaimNext(context.Background(), "worker-1")
	assert.True(t, types.IsClaimUnavailable(err))
}

func TestClaimNextBuildsLeaseFromTheClaimedRow(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*int64) = 42
				*dest[1].(*string) = "west"
				*dest[2].(*types.Mode) = types.ModeEnhanced
				return nil
			}}
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	lease, err := m.ClaimNext(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), lease.MasterID)
	assert.Equal(t, "west", lease.BusinessCenter)
	assert.Equal(t, types.ModeEnhanced, lease.Mode)
	assert.Equal(t, "worker-1", lease.WorkerID)
	assert.NoError(t, lease.Context().Err())
	lease.Release()
}

func TestClaimNextWrapsAStoreFailure(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error { return errors.New("connection reset") }}
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	_, err = m.ClaimNext(context.Background(), "worker-1")
	var unavailable *types.StoreUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestCompleteReturnsLostLeaseErrorWhenLeaseWasReclaimed(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	lease := types.NewLease(context.Background(), 9, "west", types.ModeStandard, "worker-1", time.Now().Add(time.Minute))
	err = m.Complete(context.Background(), lease)
	assert.True(t, types.IsLostLease(err))
}

func TestCompleteSucceedsWhenTheLeaseStillBelongsToTheWorker(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	lease := types.NewLease(context.Background(), 9, "west", types.ModeStandard, "worker-1", time.Now().Add(time.Minute))
	assert.NoError(t, m.Complete(context.Background(), lease))
	assert.Error(t, lease.Context().Err(), "Complete must release the lease context")
}

func TestFailTruncatesAnOverlongErrorMessage(t *testing.T) {
	var gotMessage string
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotMessage = args[len(args)-1].(string)
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	lease := types.NewLease(context.Background(), 9, "west", types.ModeStandard, "worker-1", time.Now().Add(time.Minute))
	longMessage := make([]byte, errorMessageCap+500)
	for i := range longMessage {
		longMessage[i] = 'x'
	}
	require.NoError(t, m.Fail(context.Background(), lease, string(longMessage)))
	assert.Len(t, gotMessage, errorMessageCap)
}

func TestReapStaleReportsTheAffectedRowCount(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 5"), nil
		},
	}
	m, err := New(Config{Pool: q, Table: "public.batches", LeaseTTL: time.Minute})
	require.NoError(t, err)

	n, err := m.ReapStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
