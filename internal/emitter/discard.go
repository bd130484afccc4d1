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
	"os"

	"github.com/acme-corp/extractd/internal/types"
	"github.com/pkg/errors"
)

// Discard deletes the output file even after a successful Close. The
// batch processor calls this when a lease is lost between Close and
// the store's complete() call: the file was fully and correctly
// written, but ownership of the batch is no longer certain, so the
// output must not be left behind as if it had been finalized.
func (e *Emitter) Discard() error {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return &types.IOError{Cause: errors.WithStack(err)}
	}
	emittersAborted.Inc()
	return nil
}
