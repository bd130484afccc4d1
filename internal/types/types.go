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

// Package types contains the data types and interfaces that define the
// major functional blocks of the batch-extraction engine. Keeping them
// in one package makes it easy to compose the store, claim manager,
// readers, transformer, and emitter without import cycles.
package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Batch.
type Status string

// Valid Status values. The lifecycle is PENDING -> PROCESSING ->
// {COMPLETED | FAILED}, with a stale PROCESSING lease returning to
// PENDING via Reap.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Mode selects the shape of the detail reader and the output file
// naming convention for a Batch.
type Mode string

// Valid Mode values.
const (
	ModeStandard        Mode = "STANDARD"
	ModeEnhanced        Mode = "ENHANCED"
	ModeStreamingJSONB  Mode = "STREAMING_JSONB"
)

// ErrorPolicy governs how per-row errors are handled by the reader and
// transformer.
type ErrorPolicy string

// Valid ErrorPolicy values.
const (
	PolicyAbortBatch ErrorPolicy = "ABORT_BATCH"
	PolicySkipRow    ErrorPolicy = "SKIP_ROW"
)

// Batch is the aggregate root of work: a master record identified by a
// globally unique id, owning some number of Details, and producing
// exactly one output file on success.
type Batch struct {
	ID             int64
	BusinessCenter string
	Priority       int32
	Status         Status
	Mode           Mode
	LeaseHolder    string
	LeasedAt       time.Time
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Detail is a single input record belonging to a Batch, read in
// ascending DetailID order. TransactionData is populated only when the
// reader operates in ModeStreamingJSONB.
type Detail struct {
	DetailID        int64
	MasterID        int64
	RecordType      string
	AccountNumber   string
	CustomerName    string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	TransactionDate time.Time
	TransactionData *TransactionData
}

// TransactionData is the decoded shape of the semi-structured
// transactionData column used by ModeStreamingJSONB. Unknown JSON
// fields are ignored; absent fields flatten to zero values, which the
// transformer renders as empty strings rather than numeric zeroes.
type TransactionData struct {
	Customer struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Tier  string `json:"tier"`
	} `json:"customer"`
	Merchant struct {
		Name     string `json:"name"`
		Category string `json:"category"`
		Country  string `json:"country"`
	} `json:"merchant"`
	Items []struct {
		Product string          `json:"product"`
		Price   decimal.Decimal `json:"price"`
	} `json:"items"`
	Status    string  `json:"status"`
	RiskScore float64 `json:"riskScore"`
	// riskScoreSet distinguishes an absent riskScore (empty output
	// field) from a present-but-zero one.
	riskScoreSet bool
}

// HasRiskScore reports whether riskScore was present in the decoded
// payload.
func (t *TransactionData) HasRiskScore() bool { return t.riskScoreSet }

// SetRiskScorePresent is called by the decoder once it has observed an
// explicit riskScore field.
func (t *TransactionData) SetRiskScorePresent() { t.riskScoreSet = true }

// OutputRow is the flattened projection of a Detail emitted as one
// DETAIL line. Fields absent from the source map to the empty string,
// never to a numeric zero.
type OutputRow struct {
	RecordType      string
	DetailID        int64
	AccountNumber   string
	CustomerName    string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	TransactionDate time.Time

	// Populated only in ModeStreamingJSONB; Enhanced and Standard leave
	// these at their zero values and the writer omits the trailing
	// fields entirely.
	CustomerEmail string
	MerchantName  string
	ItemsCount    string // empty, not "0", when absent
	JSONStatus    string
	RiskScore     string // empty, not "0.00", when absent
}

// Lease represents an exclusive, time-bounded claim on one Batch. Ctx
// is cancelled when the lease is released; ClaimNext arms a timer that
// releases it once the lease TTL has elapsed (leases are not renewed),
// giving a running batch processor a cooperative cancellation signal
// distinct from the outer worker shutdown.
type Lease struct {
	MasterID       int64
	BusinessCenter string
	Mode           Mode
	WorkerID       string
	Expires        time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLease constructs a Lease whose Context is a child of parent.
func NewLease(parent context.Context, masterID int64, center string, mode Mode, workerID string, expires time.Time) *Lease {
	ctx, cancel := context.WithCancel(parent)
	return &Lease{
		MasterID:       masterID,
		BusinessCenter: center,
		Mode:           mode,
		WorkerID:       workerID,
		Expires:        expires,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Context returns the lease-scoped context. It is cancelled when the
// lease is released, explicitly or by the expiry timer, or when the
// parent context is cancelled.
func (l *Lease) Context() context.Context { return l.ctx }

// Release cancels the lease-scoped context. Safe to call more than
// once.
func (l *Lease) Release() { l.cancel() }

// Row pairs an OutputRow with an error as a tagged variant, rather
// than using an error return to signal a per-row decode failure: the
// emitter consumes only Ok rows, and the pipeline aggregates Err rows
// according to the configured ErrorPolicy.
type Row struct {
	Value *OutputRow
	Err   *RowError
}

// RowError is a per-row failure that ABORT_BATCH escalates into a
// batch failure and SKIP_ROW counts and discards.
type RowError struct {
	DetailID int64
	Reason   error
}

func (e *RowError) Error() string { return e.Reason.Error() }
func (e *RowError) Unwrap() error { return e.Reason }
