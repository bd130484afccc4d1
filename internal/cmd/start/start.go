// Copyright 2023 The Cockroach Authors
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

// Package start contains the command to start the worker.
package start

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acme-corp/extractd/internal/claim"
	"github.com/acme-corp/extractd/internal/config"
	"github.com/acme-corp/extractd/internal/processor"
	"github.com/acme-corp/extractd/internal/scheduler"
	"github.com/acme-corp/extractd/internal/store"
	"github.com/acme-corp/extractd/internal/util/notify"
	"github.com/acme-corp/extractd/internal/util/stdpool"
	"github.com/acme-corp/extractd/internal/util/stopper"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Fully-qualified tables the worker operates against. These are a
// fixed internal contract, not an operator-tunable setting, so they
// stay as constants rather than configuration fields.
const (
	batchTable      = "public.batches"
	detailTable     = "public.details"
	jsonDetailTable = "public.json_details"
	reapLockTable   = "public.reap_locks"
)

// gracePeriods bound how long Stop waits for in-flight batches to
// finish once a shutdown signal arrives. SIGINT gets the shorter
// drain deadline, since it's the operator-at-the-keyboard signal
// rather than an orchestrator's managed shutdown.
const (
	sigtermGracePeriod = 2 * time.Minute
	sigintGracePeriod  = 15 * time.Second
)

// Command returns the command to start the worker.
func Command() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Short: "start the batch-extraction worker",
		Use:   "start",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile, cmd)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML configuration file")
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(cfgFile string, cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "configuration")
	}

	ctx := stopper.WithContext(cmd.Context())
	installSignalHandling(ctx)

	dsn, err := cfg.Datasource.DSN()
	if err != nil {
		return err
	}
	pool, cleanup, err := stdpool.OpenPgx(ctx, dsn,
		stdpool.WithPoolSize(cfg.Datasource.MaxPoolSize, cfg.Datasource.MinIdle),
		stdpool.WithConnectTimeout(cfg.Datasource.ConnectionTimeout()),
		stdpool.WithIdleTimeout(cfg.Datasource.IdleTimeout()),
		stdpool.WithConnectionLifetime(cfg.Datasource.MaxLifetime()),
	)
	if err != nil {
		return errors.Wrap(err, "could not open datasource")
	}
	defer cleanup()

	priorities := notify.VarOf(cfg.Processor.BusinessCenterPriorities)

	claimMgr, err := claim.New(claim.Config{
		Pool:       pool,
		Table:      batchTable,
		Priorities: priorities,
		LeaseTTL:   cfg.Processor.LeaseTTL(),
	})
	if err != nil {
		return errors.Wrap(err, "could not construct claim manager")
	}

	reaper := &claim.Reaper{
		Manager:  claimMgr,
		Pool:     pool,
		Table:    reapLockTable,
		Interval: reapInterval(cfg.Processor.LeaseTTL()),
	}
	if err := reaper.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "could not prepare reaper schema")
	}
	reaper.Run(ctx)

	proc := processor.New(processor.Config{
		Store:           store.New(pool),
		Claim:           claimMgr,
		DetailTable:     detailTable,
		JSONDetailTable: jsonDetailTable,
		OutputDirectory: cfg.Processor.OutputDirectory,
		FetchSize:       cfg.Processor.BatchSize,
		ErrorPolicy:     cfg.Processor.ErrorPolicy,
	})

	workerID := uuid.New().String()
	log.WithField("workerId", workerID).Info("starting worker")

	sched := scheduler.New(scheduler.Config{
		Claim:         claimMgr,
		Processor:     proc,
		WorkerID:      workerID,
		MaxConcurrent: cfg.Processor.MaxConcurrentMasters,
		PollInterval:  cfg.Processor.PollInterval(),
	})
	sched.Run(ctx)

	if err := ctx.Wait(); err != nil {
		return &RuntimeError{Cause: err}
	}
	return nil
}

// RuntimeError marks a failure that occurred after the worker
// finished starting up, as opposed to a configuration or connection
// failure during startup. main uses this distinction to choose
// between the two non-zero exit codes.
type RuntimeError struct{ Cause error }

func (e *RuntimeError) Error() string { return e.Cause.Error() }
func (e *RuntimeError) Unwrap() error { return e.Cause }

// reapInterval is a fixed multiple of leaseTTL, comfortably larger
// than the "≫ leaseTTL" cadence a stale lease needs to be noticed on.
func reapInterval(leaseTTL time.Duration) time.Duration {
	return 5 * leaseTTL
}

func installSignalHandling(ctx *stopper.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range sigCh {
			grace := sigtermGracePeriod
			if sig == syscall.SIGINT {
				grace = sigintGracePeriod
			}
			log.WithField("signal", sig).Info("shutting down")
			ctx.Stop(grace)
			signal.Stop(sigCh)
		}
	}()
}
