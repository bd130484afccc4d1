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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/acme-corp/extractd/internal/emitter"
	"github.com/acme-corp/extractd/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservePathBreaksCollisions(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{OutputDirectory: dir})

	first, err := p.reservePath("EAST", 7, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))

	second, err := p.reservePath("EAST", 7, "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(filepath.Base(second), "EAST_7_"))
	assert.True(t, strings.HasSuffix(second, "_1.txt"))
}

func TestReservePathNaming(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{OutputDirectory: dir})

	path, err := p.reservePath("WEST", 9, "_jsonb")
	require.NoError(t, err)

	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "WEST_9_jsonb_"))
	assert.True(t, strings.HasSuffix(name, ".txt"))
}

func detailFixture(id int64, description string) *types.Detail {
	return &types.Detail{
		DetailID:      id,
		RecordType:    "SALE",
		AccountNumber: "ACC-1",
		CustomerName:  "Jane Doe",
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		Description:   description,
	}
}

func TestDrainWritesEveryDetailThroughToTheEmitter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	em, err := emitter.Open(path, 1, "EAST", false)
	require.NoError(t, err)

	src := newFakeDetailSource(detailFixture(1, "first"), detailFixture(2, "second"))
	p := New(Config{})
	require.NoError(t, p.drain(context.Background(), src, em))
	require.NoError(t, em.Close())

	assert.EqualValues(t, 2, em.Count())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "HEADER|1|EAST|"))
	assert.Contains(t, lines[1], "|1|ACC-1|Jane Doe|10.00|USD|first|")
	assert.Contains(t, lines[2], "|2|ACC-1|Jane Doe|10.00|USD|second|")
	assert.Equal(t, "TRAILER|2|20.00", lines[3])
}

func TestDrainUnderSkipRowSkipsDelimiterConflictsAndContinues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	em, err := emitter.Open(path, 1, "EAST", false)
	require.NoError(t, err)

	src := newFakeDetailSource(
		detailFixture(1, "first"),
		detailFixture(2, "bad|description"),
		detailFixture(3, "third"),
	)
	p := New(Config{ErrorPolicy: types.PolicySkipRow})
	require.NoError(t, p.drain(context.Background(), src, em))
	require.NoError(t, em.Close())

	assert.EqualValues(t, 2, em.Count())
}

func TestDrainUnderAbortBatchPropagatesTheDelimiterConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	em, err := emitter.Open(path, 1, "EAST", false)
	require.NoError(t, err)
	defer func() { _ = em.Abort() }()

	src := newFakeDetailSource(
		detailFixture(1, "first"),
		detailFixture(2, "bad|description"),
		detailFixture(3, "third"),
	)
	p := New(Config{ErrorPolicy: types.PolicyAbortBatch})
	err = p.drain(context.Background(), src, em)

	var conflict *types.DelimiterConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.DetailID)
	assert.EqualValues(t, 1, em.Count())
}

func TestDrainPropagatesAReaderFailureImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	em, err := emitter.Open(path, 1, "EAST", false)
	require.NoError(t, err)
	defer func() { _ = em.Abort() }()

	readErr := &types.StoreUnavailableError{Cause: assert.AnError}
	src := &fakeDetailSource{failAt: 0, failErr: readErr}
	p := New(Config{})
	err = p.drain(context.Background(), src, em)
	assert.ErrorIs(t, err, readErr)
}
