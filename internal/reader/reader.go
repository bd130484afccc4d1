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

// Package reader streams Detail rows for one batch as a lazy, finite,
// non-restartable sequence, in relational or semi-structured mode.
package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/acme-corp/extractd/internal/store"
	"github.com/acme-corp/extractd/internal/types"
	"github.com/pkg/errors"
)

// cursor is the minimal streaming surface Next needs from an open
// query; *store.Stream satisfies it. Tests can drive Reader.Next
// against a fake cursor instead of a live database.
type cursor interface {
	Next(ctx context.Context) (bool, error)
	Scan(dest ...any) error
	Close(ctx context.Context) error
}

// Reader streams Detail rows, ascending by DetailID, for a single
// masterID. Call Next until it returns (nil, nil); always call Close.
type Reader struct {
	stream      cursor
	semi        bool
	errorPolicy types.ErrorPolicy
	skippedRows int64
}

// relationalTemplate selects the plain columns shared by both modes.
//
//	$1 = masterID
const relationalTemplate = `
SELECT detail_id, record_type, account_number, customer_name, amount, currency, description, transaction_date
FROM %[1]s
WHERE master_id = $1
ORDER BY detail_id ASC
`

// semiStructuredTemplate additionally selects the raw JSON payload
// column.
const semiStructuredTemplate = `
SELECT detail_id, record_type, account_number, customer_name, amount, currency, description, transaction_date, transaction_data
FROM %[1]s
WHERE master_id = $1
ORDER BY detail_id ASC
`

// OpenRelational opens a relational-mode reader over detailTable.
func OpenRelational(ctx context.Context, s *store.Store, detailTable string, masterID int64, fetchSize int) (*Reader, error) {
	sql := fmt.Sprintf(relationalTemplate, detailTable)
	stream, err := s.OpenStream(ctx, sql, []any{masterID}, fetchSize)
	if err != nil {
		return nil, err
	}
	return &Reader{stream: stream}, nil
}

// OpenSemiStructured opens a semi-structured-mode reader over
// detailTable. Per-row decode failures are handled according to
// errorPolicy: ABORT_BATCH propagates a *types.DecodeError from Next,
// SKIP_ROW counts the row and continues.
func OpenSemiStructured(
	ctx context.Context, s *store.Store, detailTable string, masterID int64, fetchSize int, errorPolicy types.ErrorPolicy,
) (*Reader, error) {
	sql := fmt.Sprintf(semiStructuredTemplate, detailTable)
	stream, err := s.OpenStream(ctx, sql, []any{masterID}, fetchSize)
	if err != nil {
		return nil, err
	}
	return &Reader{stream: stream, semi: true, errorPolicy: errorPolicy}, nil
}

// SkippedRows reports how many rows have been dropped so far under
// SKIP_ROW.
func (r *Reader) SkippedRows() int64 { return r.skippedRows }

// Next returns the next Detail, or (nil, nil) once the sequence is
// exhausted. A non-nil error is always fatal to the calling batch;
// per-row decode errors that were configured to SKIP_ROW never reach
// the caller as an error — they're folded into SkippedRows instead.
func (r *Reader) Next(ctx context.Context) (*types.Detail, error) {
	for {
		ok, err := r.stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		detail, err := r.scan()
		if err == nil {
			return detail, nil
		}

		var decodeErr *types.DecodeError
		if !errors.As(err, &decodeErr) {
			return nil, err
		}
		if r.errorPolicy == types.PolicySkipRow {
			r.skippedRows++
			skippedRowsTotal.Inc()
			continue
		}
		return nil, decodeErr
	}
}

// Close releases the underlying cursor.
func (r *Reader) Close(ctx context.Context) error {
	return r.stream.Close(ctx)
}

func (r *Reader) scan() (*types.Detail, error) {
	d := &types.Detail{}
	if !r.semi {
		if err := r.stream.Scan(
			&d.DetailID, &d.RecordType, &d.AccountNumber, &d.CustomerName,
			&d.Amount, &d.Currency, &d.Description, &d.TransactionDate,
		); err != nil {
			return nil, &types.StoreUnavailableError{Cause: err}
		}
		return d, nil
	}

	var raw []byte
	if err := r.stream.Scan(
		&d.DetailID, &d.RecordType, &d.AccountNumber, &d.CustomerName,
		&d.Amount, &d.Currency, &d.Description, &d.TransactionDate, &raw,
	); err != nil {
		return nil, &types.StoreUnavailableError{Cause: err}
	}

	payload, err := decodeTransactionData(raw)
	if err != nil {
		return nil, &types.DecodeError{DetailID: d.DetailID, Reason: err}
	}
	d.TransactionData = payload
	return d, nil
}

// decodeTransactionData unmarshals the raw JSONB payload. Unknown
// fields are ignored; a present riskScore is distinguished from an
// absent one by probing the raw object for the key in a second pass
// after the decode, since the zero value of float64 can't tell the two
// apart.
func decodeTransactionData(raw []byte) (*types.TransactionData, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &types.TransactionData{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var t types.TransactionData
	if err := dec.Decode(&t); err != nil {
		return nil, errors.WithStack(err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if _, ok := probe["riskScore"]; ok {
			t.SetRiskScorePresent()
		}
	}
	return &t, nil
}
