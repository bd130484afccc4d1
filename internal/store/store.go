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

// Package store is the gateway onto the batch registry and detail
// tables: parametric exec/query and cursor-backed streaming reads.
package store

import (
	"context"
	"fmt"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/retry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Store wraps a connection pool with the three operations the rest of
// the engine needs: exec, queryOne, and openStream.
type Store struct {
	Pool *types.Pool
}

// New constructs a Store over pool.
func New(pool *types.Pool) *Store {
	return &Store{Pool: pool}
}

// Exec runs a single autocommit write and returns the number of rows
// affected. Retries transparently on a transient store error.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var rowsAffected int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, sql, args...)
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

// QueryOne runs sql and passes the resulting row to scan. If scan
// reports pgx.ErrNoRows, found is false and no error is returned.
func (s *Store) QueryOne(ctx context.Context, scan func(pgx.Row) error, sql string, args ...any) (found bool, err error) {
	err = retry.Retry(ctx, func(ctx context.Context) error {
		row := s.Pool.QueryRow(ctx, sql, args...)
		scanErr := scan(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			found = false
			return nil
		}
		found = scanErr == nil
		return scanErr
	})
	if err != nil {
		return false, &types.StoreUnavailableError{Cause: err}
	}
	return found, nil
}

// Stream is a lazy, finite, non-restartable sequence of rows backed
// by a server-side cursor declared inside an explicit transaction.
// Callers MUST call Close on every exit path, including panics;
// Close is idempotent. Only one Stream may be in flight per
// reservation of the underlying connection.
type Stream struct {
	tx        pgx.Tx
	cursor    string
	fetchSize int
	rows      pgx.Rows
	exhausted bool
	closed    bool
}

// OpenStream declares a server-side cursor for sql inside a fresh
// transaction and returns a Stream over it. fetchSize controls how
// many rows are prefetched per FETCH round trip, and is the sole knob
// bounding memory use independent of result-set cardinality.
func (s *Store) OpenStream(ctx context.Context, sql string, args []any, fetchSize int) (*Stream, error) {
	if fetchSize <= 0 {
		return nil, errors.New("store: fetchSize must be positive")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, &types.StoreUnavailableError{Cause: err}
	}

	cursor := "extractd_" + uuid.NewString()[:8]
	if _, err := tx.Exec(ctx, fmt.Sprintf("DECLARE %s CURSOR FOR %s", cursor, sql), args...); err != nil {
		_ = tx.Rollback(ctx)
		return nil, &types.StoreUnavailableError{Cause: err}
	}

	return &Stream{tx: tx, cursor: cursor, fetchSize: fetchSize}, nil
}

// Next advances the stream. It returns false once the cursor is
// exhausted or the sequence has failed; the caller must inspect the
// returned error to distinguish the two.
func (str *Stream) Next(ctx context.Context) (bool, error) {
	if str.closed {
		return false, errors.New("store: stream already closed")
	}
	if str.rows != nil {
		if str.rows.Next() {
			return true, nil
		}
		if err := str.rows.Err(); err != nil {
			return false, &types.StoreUnavailableError{Cause: err}
		}
		str.rows.Close()
		str.rows = nil
	}
	if str.exhausted {
		return false, nil
	}

	rows, err := str.tx.Query(ctx, fmt.Sprintf("FETCH %d FROM %s", str.fetchSize, str.cursor))
	if err != nil {
		return false, &types.StoreUnavailableError{Cause: err}
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		str.exhausted = true
		if err != nil {
			return false, &types.StoreUnavailableError{Cause: err}
		}
		return false, nil
	}
	str.rows = rows
	return true, nil
}

// Scan copies the column values of the current row into dest.
func (str *Stream) Scan(dest ...any) error {
	if str.rows == nil {
		return errors.New("store: Scan called before a successful Next")
	}
	return errors.WithStack(str.rows.Scan(dest...))
}

// Close releases the cursor and rolls back the enclosing transaction.
// Safe to call more than once and safe to call after a partial read.
func (str *Stream) Close(ctx context.Context) error {
	if str.closed {
		return nil
	}
	str.closed = true
	if str.rows != nil {
		str.rows.Close()
		str.rows = nil
	}
	// A read-only stream has nothing to commit; rollback always
	// releases the cursor and the connection.
	return errors.WithStack(str.tx.Rollback(ctx))
}
