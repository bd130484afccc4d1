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

package processor

import (
	"context"

	"github.com/acme-corp/extractd/internal/types"
)

// fakeDetailSource is a detailSource backed by a fixed slice of
// Details, so drain can be exercised without a live database.
type fakeDetailSource struct {
	details []*types.Detail
	idx     int
	failAt  int // if >= 0, Next fails with failErr once idx reaches it
	failErr error
}

func newFakeDetailSource(details ...*types.Detail) *fakeDetailSource {
	return &fakeDetailSource{details: details, failAt: -1}
}

func (f *fakeDetailSource) Next(ctx context.Context) (*types.Detail, error) {
	if f.failAt >= 0 && f.idx == f.failAt {
		return nil, f.failErr
	}
	if f.idx >= len(f.details) {
		return nil, nil
	}
	d := f.details[f.idx]
	f.idx++
	return d, nil
}
