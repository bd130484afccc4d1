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

package emitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emittersOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_opened_total",
		Help: "the number of output files opened",
	})
	emittersClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_closed_total",
		Help: "the number of output files closed cleanly",
	})
	emittersAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_aborted_total",
		Help: "the number of output files aborted and deleted",
	})
	detailsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_details_written_total",
		Help: "the total number of DETAIL lines written across all closed files",
	})
)
