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

package store

import (
	"context"
	"testing"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestOpenStreamRejectsNonPositiveFetchSize(t *testing.T) {
	s := New(&types.Pool{})
	_, err := s.OpenStream(context.Background(), "SELECT 1", nil, 0)
	assert.Error(t, err)
}

func TestScanBeforeNextIsAnError(t *testing.T) {
	str := &Stream{}
	err := str.Scan()
	assert.Error(t, err)
}

func TestStreamNextAfterCloseIsAnError(t *testing.T) {
	str := &Stream{closed: true}
	_, err := str.Next(context.Background())
	assert.Error(t, err)
}
