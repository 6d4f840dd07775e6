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

package gracemerge

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gracehash/mergeagg/pkg/aggregator"
	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/memoracle"
	"github.com/gracehash/mergeagg/pkg/process"
	"github.com/gracehash/mergeagg/pkg/spillstore"
	"github.com/gracehash/mergeagg/pkg/vm"
)

// sliceSource is a test fixture vm.Operator: it replays a fixed list of
// batches to whatever is pulling from it, then reports ExecStop.
type sliceSource struct {
	vm.OperatorBase
	batches []*batch.Batch
	idx     int
}

func (s *sliceSource) OpType() vm.OpType           { return vm.Source }
func (s *sliceSource) String(buf *bytes.Buffer)    { buf.WriteString("slice_source") }
func (s *sliceSource) Prepare(*process.Process) error { s.idx = 0; return nil }

func (s *sliceSource) Call(*process.Process) (vm.CallResult, error) {
	if s.idx >= len(s.batches) {
		return vm.CallResult{Status: vm.ExecStop}, nil
	}
	b := s.batches[s.idx]
	s.idx++
	return vm.CallResult{Status: vm.ExecNext, Batch: b}, nil
}

func (s *sliceSource) Reset(*process.Process, bool, error) { s.idx = 0 }
func (s *sliceSource) Free(*process.Process, bool, error)  {}
func (s *sliceSource) Release()                             {}

var _ vm.Operator = &sliceSource{}

// countKeyBatch builds a partial-aggregate batch for a count() aggregate:
// one state column holding a partial count of 1 per row.
func countKeyBatch(keys ...string) *batch.Batch {
	b := batch.New(batch.Schema{KeyColumns: 1, StateColumns: 1})
	for _, k := range keys {
		b.AppendRow(batch.Key(k), []any{int64(1)})
	}
	return b
}

// sumKeyValueBatch builds a partial-aggregate batch for a sum(v) aggregate.
func sumKeyValueBatch(rows ...[2]float64) *batch.Batch {
	b := batch.New(batch.Schema{KeyColumns: 1, StateColumns: 1})
	for _, r := range rows {
		b.AppendRow(batch.Key([]byte{byte(r[0])}), []any{r[1]})
	}
	return b
}

// keyBatch is router.go/merge.go/finalize.go's unit-test fixture: a plain
// count() partial-aggregate batch, one row per key, state column holding a
// partial count of 1 — the same shape countKeyBatch builds, kept as a
// separate name since these lower-level tests construct Arguments directly
// rather than through newTestHarness.
func keyBatch(keys ...string) *batch.Batch {
	return countKeyBatch(keys...)
}

// newTestAggregator returns a fresh count() HashAggregator, the collaborator
// router.go/merge.go/finalize.go's unit tests exercise ingest/rehash/finalize
// against.
func newTestAggregator() aggregator.Aggregator {
	return aggregator.New([]aggregator.Spec{{Op: aggregator.Count}}, 1)
}

// newTestSpillStore opens a PebbleStore rooted at a fresh temp dir, cleaned
// up automatically at test end.
func newTestSpillStore(t *testing.T) spillstore.SpillStore {
	t.Helper()
	store, err := spillstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Cleanup() })
	return store
}

// testHarness wires an Argument to a sliceSource child and a MemoryOracle,
// the minimum collaborators spec.md section 6 requires.
type testHarness struct {
	arg    *Argument
	source *sliceSource
	proc   *process.Process
	store  spillstore.SpillStore
	cancel context.CancelFunc
}

func newTestHarness(t *testing.T, agg aggregator.Aggregator, cfg Config, oracle memoracle.MemoryOracle, batches []*batch.Batch) *testHarness {
	t.Helper()

	store, err := spillstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Cleanup() })

	source := &sliceSource{batches: batches}

	arg := &Argument{
		Config:      cfg,
		InputHeader: batch.Schema{KeyColumns: 1, StateColumns: 1},
		Aggregator:  agg,
		SpillStore:  store,
		Oracle:      oracle,
	}
	arg.AppendChild(source)

	ctx, cancel := context.WithCancel(context.Background())
	proc := process.New(ctx, oracle)

	return &testHarness{arg: arg, source: source, proc: proc, store: store, cancel: cancel}
}

// run drives Prepare then Call to completion, collecting every output batch
// along the way; mirrors how an external scheduler pulls this operator.
func (h *testHarness) run(t *testing.T) []*batch.Batch {
	t.Helper()
	require.NoError(t, h.arg.Prepare(h.proc))

	var out []*batch.Batch
	for {
		result, err := h.arg.Call(h.proc)
		require.NoError(t, err)
		if result.Batch != nil {
			out = append(out, result.Batch)
		}
		if result.Status == vm.ExecStop {
			break
		}
	}
	return out
}

// countdownOracle reports high for its first `remaining` reads, then low
// forever after — used to force exactly one spill/split decision inside a
// single Call's memory-pressure reaction loop, then let the rest of a run
// proceed as if memory pressure had been relieved.
type countdownOracle struct {
	remaining int
	high, low int64
}

func (o *countdownOracle) CurrentUsage() int64 {
	if o.remaining > 0 {
		o.remaining--
		return o.high
	}
	return o.low
}

func countsByKey(blocks []*batch.Batch) map[string]int64 {
	out := map[string]int64{}
	for _, b := range blocks {
		for i := 0; i < b.RowCount(); i++ {
			out[string(b.Keys[i])] += b.States[0][i].(int64)
		}
	}
	return out
}
