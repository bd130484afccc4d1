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

// Package transform maps a Detail (plus its optionally-decoded
// sub-document) into the flattened OutputRow the emitter writes.
package transform

import (
	"strconv"
	"strings"

	"github.com/acme-corp/extractd/internal/types"
)

const delimiter = "|"

// Flatten is the pure (Detail) -> OutputRow mapping. It never touches
// the database or the filesystem. A field containing the delimiter
// character is rejected rather than escaped.
func Flatten(d *types.Detail) *types.Row {
	row := &types.OutputRow{
		RecordType:      d.RecordType,
		DetailID:        d.DetailID,
		AccountNumber:   d.AccountNumber,
		CustomerName:    d.CustomerName,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Description:     d.Description,
		TransactionDate: d.TransactionDate,
	}

	if d.TransactionData != nil {
		flattenSemiStructured(d.TransactionData, row)
	}

	if field, bad := firstDelimiterConflict(row); bad {
		return &types.Row{Err: &types.RowError{
			DetailID: d.DetailID,
			Reason:   &types.DelimiterConflictError{DetailID: d.DetailID, Field: field},
		}}
	}

	return &types.Row{Value: row}
}

// flattenSemiStructured projects customer.email, merchant.name,
// len(items), status, and riskScore onto the output row. Absent
// fields map to the empty string, never to a numeric zero.
func flattenSemiStructured(t *types.TransactionData, row *types.OutputRow) {
	row.CustomerEmail = t.Customer.Email
	row.MerchantName = t.Merchant.Name
	row.JSONStatus = t.Status

	if len(t.Items) > 0 {
		row.ItemsCount = strconv.Itoa(len(t.Items))
	}

	if t.HasRiskScore() {
		row.RiskScore = formatRiskScore(t.RiskScore)
	}
}

// formatRiskScore renders riskScore in its natural decimal form.
// Unlike amount, riskScore is a plain numeric field, not a
// fixed-point one, so it is not padded to two fractional digits:
// 15.5 flattens to "15.5", not "15.50".
func formatRiskScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// firstDelimiterConflict reports the name of the first output field
// containing the pipe delimiter, if any.
func firstDelimiterConflict(row *types.OutputRow) (field string, found bool) {
	candidates := []struct {
		name  string
		value string
	}{
		{"recordType", row.RecordType},
		{"accountNumber", row.AccountNumber},
		{"customerName", row.CustomerName},
		{"currency", row.Currency},
		{"description", row.Description},
		{"customerEmail", row.CustomerEmail},
		{"merchantName", row.MerchantName},
		{"status", row.JSONStatus},
	}
	for _, c := range candidates {
		if strings.Contains(c.value, delimiter) {
			return c.name, true
		}
	}
	return "", false
}
