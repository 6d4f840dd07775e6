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

// Package memoracle provides the MemoryOracle collaborator: a read-only,
// process-wide view of current memory usage that the merge core consults
// before deciding whether to spill (spec.md section 6). The real tracker is
// out of scope for this module; the two implementations here stand in for
// it so the operator can be driven and tested.
package memoracle

import (
	"runtime"
	"sync/atomic"
)

// MemoryOracle reports the process's current memory usage in bytes.
type MemoryOracle interface {
	CurrentUsage() int64
}

// RuntimeOracle reports real process memory usage via runtime.ReadMemStats.
// It is the closest stand-in available outside the host engine's own
// allocator accounting (mpool in the teacher) — no third-party package in
// the example corpus exposes cross-process memory accounting suitable for
// a narrowly-scoped library like this one, so the standard library's
// runtime package is used directly; see DESIGN.md.
type RuntimeOracle struct{}

func (RuntimeOracle) CurrentUsage() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapInuse)
}

// ManualOracle is a settable oracle used by tests to force the overflow
// predicate deterministically, without needing to allocate gigabytes of
// real memory to exercise spill scenarios like S2, S4 and S5.
type ManualOracle struct {
	usage atomic.Int64
}

func NewManualOracle(initial int64) *ManualOracle {
	m := &ManualOracle{}
	m.usage.Store(initial)
	return m
}

func (m *ManualOracle) CurrentUsage() int64 { return m.usage.Load() }

func (m *ManualOracle) Set(v int64) { m.usage.Store(v) }

func (m *ManualOracle) Add(delta int64) { m.usage.Add(delta) }
