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

// Package processor wires the reader, transformer, and emitter
// together under a single lease and reports the final outcome back
// to the claim manager.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/acme-corp/extractd/internal/claim"
	"github.com/acme-corp/extractd/internal/emitter"
	"github.com/acme-corp/extractd/internal/reader"
	"github.com/acme-corp/extractd/internal/store"
	"github.com/acme-corp/extractd/internal/transform"
	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// Config configures a Processor.
type Config struct {
	Store *store.Store
	Claim *claim.Manager

	DetailTable     string // relational / enhanced detail table
	JSONDetailTable string // semi-structured detail table for STREAMING_JSONB

	OutputDirectory string
	FetchSize       int
	ErrorPolicy     types.ErrorPolicy
}

// Processor drives one batch, end to end, under its lease.
type Processor struct {
	cfg Config
}

// detailSource is the minimal streaming surface drain needs from a
// reader; *reader.Reader satisfies it. Tests can drive drain against a
// fake source instead of a live database.
type detailSource interface {
	Next(ctx context.Context) (*types.Detail, error)
}

// New constructs a Processor.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// Process runs the reader -> transformer -> emitter pipeline for
// lease and finalizes the claim. It never panics on a pipeline
// failure: every error path ends in a call to Fail or Complete.
func (p *Processor) Process(ctx context.Context, lease *types.Lease) error {
	start := time.Now()
	outcome := "completed"
	defer func() {
		batchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	rd, outputPath, err := p.openReader(lease)
	if err != nil {
		outcome = "failed"
		return p.fail(ctx, lease, err)
	}

	em, err := emitter.Open(outputPath, lease.MasterID, lease.BusinessCenter, lease.Mode == types.ModeStreamingJSONB)
	if err != nil {
		_ = rd.Close(ctx)
		outcome = "failed"
		return p.fail(ctx, lease, err)
	}

	err = p.drain(lease.Context(), rd, em)
	closeErr := rd.Close(ctx)
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = em.Abort()
		outcome = "failed"
		if errors.Is(err, context.Canceled) {
			return p.fail(ctx, lease, &types.CancelledError{})
		}
		return p.fail(ctx, lease, err)
	}

	if err := em.Close(); err != nil {
		outcome = "failed"
		return p.fail(ctx, lease, err)
	}

	if err := p.cfg.Claim.Complete(ctx, lease); err != nil {
		if types.IsLostLease(err) {
			log.WithField("masterId", lease.MasterID).Warn("lease lost between close and complete; discarding output")
			_ = em.Discard()
			outcome = "lost_lease"
			return err
		}
		outcome = "failed"
		return err
	}

	rowsReadTotal.WithLabelValues(lease.BusinessCenter).Add(float64(em.Count()))
	log.WithFields(log.Fields{
		"masterId": lease.MasterID, "rows": em.Count(), "skipped": rd.SkippedRows(),
	}).Info("batch completed")
	return nil
}

// drain pumps Detail rows from rd through the flattener into em,
// honoring the configured ErrorPolicy for per-row failures.
func (p *Processor) drain(ctx context.Context, rd detailSource, em *emitter.Emitter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		detail, err := rd.Next(ctx)
		if err != nil {
			return err
		}
		if detail == nil {
			return nil
		}

		row := transform.Flatten(detail)
		if row.Err != nil {
			if p.cfg.ErrorPolicy == types.PolicySkipRow {
				rowsSkippedTotal.Inc()
				continue
			}
			return row.Err.Reason
		}

		if err := em.WriteDetail(row.Value); err != nil {
			return err
		}
	}
}

func (p *Processor) fail(ctx context.Context, lease *types.Lease, cause error) error {
	if err := p.cfg.Claim.Fail(ctx, lease, cause.Error()); err != nil {
		log.WithError(err).WithField("masterId", lease.MasterID).Error("could not record batch failure")
		return err
	}
	return cause
}

// openReader resolves the batch's mode and opens the matching reader,
// returning the output path the emitter should write to.
func (p *Processor) openReader(lease *types.Lease) (*reader.Reader, string, error) {
	suffix := ""
	table := p.cfg.DetailTable
	switch lease.Mode {
	case types.ModeEnhanced:
		suffix = "_enhanced"
	case types.ModeStreamingJSONB:
		suffix = "_jsonb"
		table = p.cfg.JSONDetailTable
	case types.ModeStandard, "":
	default:
		return nil, "", errors.Errorf("unknown mode %q", lease.Mode)
	}

	outputPath, err := p.reservePath(lease.BusinessCenter, lease.MasterID, suffix)
	if err != nil {
		return nil, "", &types.IOError{Cause: err}
	}

	var rd *reader.Reader
	if lease.Mode == types.ModeStreamingJSONB {
		rd, err = reader.OpenSemiStructured(lease.Context(), p.cfg.Store, table, lease.MasterID, p.cfg.FetchSize, p.cfg.ErrorPolicy)
	} else {
		rd, err = reader.OpenRelational(lease.Context(), p.cfg.Store, table, lease.MasterID, p.cfg.FetchSize)
	}
	if err != nil {
		return nil, "", err
	}
	return rd, outputPath, nil
}

// reservePath builds {outputDir}/{businessCenter}_{masterId}{suffix}_{yyyyMMdd_HHmmss}.txt,
// breaking a same-second collision by appending a monotone counter.
func (p *Processor) reservePath(businessCenter string, masterID int64, suffix string) (string, error) {
	base := fmt.Sprintf("%s_%d%s_%s", businessCenter, masterID, suffix, time.Now().UTC().Format("20060102_150405"))
	for attempt := 0; ; attempt++ {
		name := base
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d", base, attempt)
		}
		path := filepath.Join(p.cfg.OutputDirectory, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		} else if err != nil {
			return "", err
		}
	}
}

var (
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_batch_duration_seconds",
		Help:    "wall-clock time to process one batch, by outcome",
		Buckets: metrics.LatencyBuckets,
	}, []string{"outcome"})
	rowsReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_rows_written_total",
		Help: "the number of DETAIL rows written, by business center",
	}, metrics.SourceLabels)
	rowsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "processor_rows_skipped_total",
		Help: "the number of rows skipped at the transform stage under SKIP_ROW",
	})
)
