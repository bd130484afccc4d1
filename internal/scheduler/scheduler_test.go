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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepDurationWithinJitterBounds(t *testing.T) {
	s := &Scheduler{cfg: Config{PollInterval: 10 * time.Second}}
	for i := 0; i < 200; i++ {
		d := s.sleepDuration()
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 15*time.Second)
	}
}

func TestSleepDurationZeroPollIntervalNeverBlocksForever(t *testing.T) {
	s := &Scheduler{cfg: Config{PollInterval: 0}}
	assert.Equal(t, time.Duration(0), s.sleepDuration())
}

func TestTryDispatchReturnsFalseAtCapacity(t *testing.T) {
	s := &Scheduler{cfg: Config{MaxConcurrent: 1}}
	s.tokens = make(chan struct{}) // unbuffered and empty: always at capacity
	assert.False(t, s.tryDispatch(nil))
}
