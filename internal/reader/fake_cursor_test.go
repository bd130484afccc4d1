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

package reader

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// fakeCursorRow is one canned row of a fakeCursor. raw is the
// transaction_data payload scanned in semi-structured mode; leave it
// nil for relational-mode rows.
type fakeCursorRow struct {
	detailID int64
	raw      []byte
}

// fakeCursor is a cursor backed by a fixed slice of rows, so
// Reader.Next can be driven without a live database.
type fakeCursor struct {
	rows   []fakeCursorRow
	idx    int
	closed bool
}

func newFakeCursor(rows ...fakeCursorRow) *fakeCursor {
	return &fakeCursor{rows: rows, idx: -1}
}

func (c *fakeCursor) Next(ctx context.Context) (bool, error) {
	if c.idx+1 >= len(c.rows) {
		return false, nil
	}
	c.idx++
	return true, nil
}

func (c *fakeCursor) Scan(dest ...any) error {
	row := c.rows[c.idx]
	*dest[0].(*int64) = row.detailID
	*dest[1].(*string) = "SALE"
	*dest[2].(*string) = "ACC-1"
	*dest[3].(*string) = "Jane Doe"
	*dest[4].(*decimal.Decimal) = decimal.NewFromInt(10)
	*dest[5].(*string) = "USD"
	*dest[6].(*string) = "purchase"
	*dest[7].(*time.Time) = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(dest) > 8 {
		*dest[8].(*[]byte) = row.raw
	}
	return nil
}

func (c *fakeCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}
