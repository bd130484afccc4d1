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

// Package scheduler runs one worker's poll loop: claim a batch when
// there's spare concurrency and dispatch it to a bounded pool of
// processing goroutines. Stale leases are reaped by [claim.Reaper],
// not by this package.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme-corp/extractd/internal/claim"
	"github.com/acme-corp/extractd/internal/processor"
	"github.com/acme-corp/extractd/internal/types"
	"github.com/acme-corp/extractd/internal/util/stopper"
	"github.com/acme-corp/extractd/internal/util/workgroup"
	log "github.com/sirupsen/logrus"
)

// Config configures a Scheduler.
type Config struct {
	Claim     *claim.Manager
	Processor *processor.Processor

	WorkerID      string
	MaxConcurrent int
	PollInterval  time.Duration
}

// Scheduler is one worker's poll loop. It does not prioritize within
// itself; priority is entirely a property of [claim.Manager.ClaimNext]'s
// ordering.
type Scheduler struct {
	cfg    Config
	group  *workgroup.Group
	tokens chan struct{}
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Run registers the poll loop with ctx and returns immediately.
func (s *Scheduler) Run(ctx *stopper.Context) {
	s.tokens = make(chan struct{}, s.cfg.MaxConcurrent)
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.tokens <- struct{}{}
	}
	s.group = workgroup.WithSize(ctx, s.cfg.MaxConcurrent, s.cfg.MaxConcurrent)

	ctx.Go(func() error {
		s.pollLoop(ctx)
		return nil
	})
}

func (s *Scheduler) pollLoop(ctx *stopper.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Stopping():
			return
		case <-t.C:
		}

		claimed := s.tryDispatch(ctx)

		delay := time.Duration(0)
		if !claimed {
			delay = s.sleepDuration()
		}
		t.Reset(delay)
	}
}

// sleepDuration is pollInterval plus jitter in [0, pollInterval/2], to
// spread load across workers polling on the same cadence.
func (s *Scheduler) sleepDuration() time.Duration {
	half := int64(s.cfg.PollInterval / 2)
	jitter := time.Duration(0)
	if half > 0 {
		jitter = time.Duration(rand.Int63n(half + 1))
	}
	return s.cfg.PollInterval + jitter
}

// tryDispatch claims and dispatches at most one batch, returning true
// if it did so. It never blocks waiting for a free worker slot: if
// the worker is already at MaxConcurrent in-flight batches, it
// returns false without calling ClaimNext, so an already-eligible
// batch is left for another poll tick (of this worker, or another).
func (s *Scheduler) tryDispatch(ctx *stopper.Context) bool {
	select {
	case <-s.tokens:
	default:
		return false
	}
	release := func() { s.tokens <- struct{}{} }

	lease, err := s.cfg.Claim.ClaimNext(ctx, s.cfg.WorkerID)
	if err != nil {
		release()
		if !types.IsClaimUnavailable(err) {
			log.WithError(err).Warn("claimNext failed")
		}
		return false
	}

	err = s.group.Go(func(ctx context.Context) {
		defer release()
		if err := s.cfg.Processor.Process(ctx, lease); err != nil {
			log.WithError(err).WithField("masterId", lease.MasterID).Warn("batch processing failed")
		}
	})
	if err != nil {
		release()
		log.WithError(err).WithField("masterId", lease.MasterID).Error("could not dispatch claimed batch")
		_ = s.cfg.Claim.Fail(ctx, lease, "scheduler dispatch failed: "+err.Error())
		return false
	}
	return true
}
