// Copyright 2026 The GraceHash Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package process carries the call-scoped state every vm.Operator needs:
// a cancellation context and a memory oracle handle. It is trimmed from the
// teacher's vm/process.Process, which additionally threads a memory pool,
// transaction handle, and distributed-query wiring that this single-process,
// single-pipeline module has no use for.
package process

import (
	"context"

	"github.com/gracehash/mergeagg/pkg/memoracle"
)

// Process is the per-Call execution context threaded through an operator
// tree's Prepare/Call chain.
type Process struct {
	Ctx     context.Context
	Oracle  memoracle.MemoryOracle
	cancel  context.CancelFunc
}

// New builds a Process bound to ctx and the given memory oracle.
func New(ctx context.Context, oracle memoracle.MemoryOracle) *Process {
	return &Process{Ctx: ctx, Oracle: oracle}
}

// WithCancel builds a Process whose context can be cancelled independently,
// used by tests that need to exercise CancelCheck.
func WithCancel(parent context.Context, oracle memoracle.MemoryOracle) (*Process, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	p := &Process{Ctx: ctx, Oracle: oracle, cancel: cancel}
	return p, cancel
}
