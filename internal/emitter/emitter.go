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

// Package emitter implements the header/detail/trailer file-emission
// state machine: INIT -> HEADER_WRITTEN -> BODY -> TRAILER_WRITTEN ->
// CLOSED, with running aggregates and buffered, flush-on-close I/O.
package emitter

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// bufferSize is the capacity of the buffered writer wrapping the
// output file; the contract requires at least 32 KiB.
const bufferSize = 64 * 1024

const dateLayout = "20060102"
const timestampLayout = "20060102150405"

type state int

const (
	stateHeaderWritten state = iota
	stateBody
	stateTrailerWritten
	stateClosed
)

// Emitter drives one output file through the HEADER -> DETAIL* ->
// TRAILER discipline. Operations must be called in order; violations
// are programming errors and panic rather than returning an error, to
// match the "must be called in this order" contract.
type Emitter struct {
	path  string
	file  *os.File
	w     *bufio.Writer
	state state

	masterID       int64
	businessCenter string
	semi           bool // emit the semi-structured tail fields

	count int64
	sum   decimal.Decimal

	aborted bool
}

// Open creates outputPath and writes the HEADER line. The record
// count in the HEADER is always the placeholder 0; the true count is
// only known once every DETAIL line has been written, so it is
// written into the TRAILER instead.
func Open(outputPath string, masterID int64, businessCenter string, semi bool) (*Emitter, error) {
	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &types.IOError{Cause: errors.WithStack(err)}
	}

	e := &Emitter{
		path:           outputPath,
		file:           file,
		w:              bufio.NewWriterSize(file, bufferSize),
		masterID:       masterID,
		businessCenter: businessCenter,
		semi:           semi,
	}

	header := fmt.Sprintf("HEADER|%d|%s|%s|0\n", masterID, businessCenter, time.Now().UTC().Format(dateLayout))
	if _, err := e.w.WriteString(header); err != nil {
		_ = e.Abort()
		return nil, &types.IOError{Cause: errors.WithStack(err)}
	}
	e.state = stateHeaderWritten
	emittersOpened.Inc()
	return e, nil
}

// WriteDetail appends one DETAIL line and folds the row into the
// running count and fixed-point sum.
func (e *Emitter) WriteDetail(row *types.OutputRow) error {
	if e.state != stateHeaderWritten && e.state != stateBody {
		panic("emitter: WriteDetail called out of order")
	}

	line := e.formatDetail(row)
	if _, err := e.w.WriteString(line); err != nil {
		return &types.IOError{Cause: errors.WithStack(err)}
	}

	e.count++
	e.sum = e.sum.Add(row.Amount)
	e.state = stateBody
	return nil
}

func (e *Emitter) formatDetail(row *types.OutputRow) string {
	base := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s",
		row.RecordType,
		row.DetailID,
		row.AccountNumber,
		row.CustomerName,
		row.Amount.StringFixed(2),
		row.Currency,
		row.Description,
		row.TransactionDate.UTC().Format(timestampLayout),
	)
	if !e.semi {
		return base + "\n"
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s\n", base,
		row.CustomerEmail, row.MerchantName, row.ItemsCount, row.JSONStatus, row.RiskScore)
}

// Close writes the TRAILER line, flushes, and closes the underlying
// file. Idempotent: calling Close more than once is a no-op after the
// first call succeeds.
func (e *Emitter) Close() error {
	if e.state == stateClosed {
		return nil
	}

	trailer := fmt.Sprintf("TRAILER|%d|%s\n", e.count, e.sum.StringFixed(2))
	if _, err := e.w.WriteString(trailer); err != nil {
		_ = e.Abort()
		return &types.IOError{Cause: errors.WithStack(err)}
	}
	e.state = stateTrailerWritten

	if err := e.w.Flush(); err != nil {
		_ = e.Abort()
		return &types.IOError{Cause: errors.WithStack(err)}
	}
	if err := e.file.Close(); err != nil {
		e.state = stateClosed
		return &types.IOError{Cause: errors.WithStack(err)}
	}
	e.state = stateClosed
	emittersClosed.Inc()
	detailsWrittenTotal.Add(float64(e.count))
	return nil
}

// Abort closes the stream and deletes the partial file. Used on any
// error before Close. Idempotent.
func (e *Emitter) Abort() error {
	if e.aborted || e.state == stateClosed {
		return nil
	}
	e.aborted = true
	_ = e.file.Close()
	err := os.Remove(e.path)
	e.state = stateClosed
	emittersAborted.Inc()
	if err != nil && !os.IsNotExist(err) {
		return &types.IOError{Cause: errors.WithStack(err)}
	}
	return nil
}

// Count returns the number of DETAIL lines written so far.
func (e *Emitter) Count() int64 { return e.count }

// Sum returns the running fixed-point total of amounts written so
// far.
func (e *Emitter) Sum() decimal.Decimal { return e.sum }
