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
	"github.com/acme-corp/extractd/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claim_claims_total",
		Help: "the number of batches successfully claimed, by business center",
	}, metrics.SourceLabels)
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claim_completions_total",
		Help: "the number of batches marked COMPLETED, by business center",
	}, metrics.SourceLabels)
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claim_failures_total",
		Help: "the number of batches marked FAILED, by business center",
	}, metrics.SourceLabels)
	reapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claim_reaped_total",
		Help: "the total number of leases returned to PENDING by reapStale",
	})
	activeLeases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claim_active_leases",
		Help: "the number of leases currently held by this worker process",
	})
)
