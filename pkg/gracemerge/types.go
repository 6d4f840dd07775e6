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

// Package gracemerge is the grace-hash merging aggregator: a vm.Operator
// that consumes partially pre-aggregated batches from its single child and
// emits fully merged, finalized aggregate rows, bounding peak memory by
// partitioning oversized state into a power-of-two count of buckets and
// spilling buckets to disk when the MemoryOracle reports the process over
// budget.
//
// The five components spec.md names are realized as this package's files:
// ports.go (the Prepare/Call pull loop), router.go (hash partitioning),
// bucket.go (per-bucket queue/stream bookkeeping), merge.go (the ingest
// decision table: merge, flush, extend or rehash), finalize.go (draining
// every bucket into output once input is exhausted).
package gracemerge

import (
	"bytes"

	"github.com/gracehash/mergeagg/pkg/aggregator"
	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/logging"
	"github.com/gracehash/mergeagg/pkg/memoracle"
	"github.com/gracehash/mergeagg/pkg/process"
	"github.com/gracehash/mergeagg/pkg/spillstore"
	"github.com/gracehash/mergeagg/pkg/vm"
)

// phase tracks which half of the operator's lifecycle ctr is in: still
// pulling and merging input, or draining already-built bucket state into
// output batches.
type phase int

const (
	phaseConsume phase = iota
	phaseDrain
	phaseDone
)

// container is the operator's mutable working state across Call
// invocations, analogous to the teacher's ctr fields on a colexec operator.
// buckets is the flat, power-of-two-sized bucket array of spec.md section 3:
// it starts at length 1 (bucket 0, the current bucket) and only ever doubles
// (see merge.go's extendBuckets). state is the single live AggregationState
// for current_bucket; every other bucket's rows sit queued or spilled until
// their turn (see bucket.go).
type container struct {
	inputHeader batch.Schema

	buckets       []*bucket
	currentBucket int
	state         aggregator.State

	// perKeyMemoryEstimate is spec.md section 3's per_key_memory_estimate:
	// bytes per distinct group, computed from the most recent rehashState()
	// pass (total_bytes/total_rows of its reconverted blocks). Zero until
	// the first rehash.
	perKeyMemoryEstimate float64

	currentPhase  phase
	pendingOutput []*batch.Batch // finalized chunks ready to emit, in order

	metrics Metrics
}

// Argument is this operator's configuration and collaborator wiring, the
// role the teacher's per-operator Argument struct plays: everything Prepare
// needs to build a fresh container, and everything Call needs that isn't
// purely transient.
type Argument struct {
	vm.OperatorBase

	Config      Config
	InputHeader batch.Schema
	Aggregator  aggregator.Aggregator
	SpillStore  spillstore.SpillStore
	Oracle      memoracle.MemoryOracle

	analyzer process.Analyzer
	ctr      *container
}

var _ vm.Operator = (*Argument)(nil)

func (arg *Argument) OpType() vm.OpType { return vm.MergeAggregate }

func (arg *Argument) String(buf *bytes.Buffer) {
	buf.WriteString("merge_aggregate(")
	if arg.ctr != nil {
		buf.WriteString(arg.ctr.metrics.String())
	}
	buf.WriteString(")")
}

// Reset drops the working container (releasing its open bucket streams) but
// keeps the Argument's config and collaborator wiring, so the same operator
// instance can run again (e.g. in a test loop) after another Prepare.
func (arg *Argument) Reset(proc *process.Process, pipelineFailed bool, err error) {
	if arg.ctr != nil {
		arg.releaseContainer()
	}
	arg.ctr = nil
}

// Free logs the operator's final Metrics record, then releases everything,
// including spill streams still open. Called once the operator will never
// run again.
func (arg *Argument) Free(proc *process.Process, pipelineFailed bool, err error) {
	if arg.ctr != nil {
		logging.Infof("gracemerge: operator freed: %s", arg.ctr.metrics.String())
	}
	arg.releaseContainer()
	if arg.SpillStore != nil {
		_ = arg.SpillStore.Cleanup()
	}
}

func (arg *Argument) Release() {}

func (arg *Argument) releaseContainer() {
	if arg.ctr == nil {
		return
	}
	for _, bk := range arg.ctr.buckets {
		if bk.stream != nil {
			_ = bk.stream.Release()
		}
	}
	arg.ctr = nil
}

// Metrics is the per-operator destruction-time observability record spec.md
// section 6 enumerates. Free writes it to the log; until then the host's
// metrics sink (out of scope) can read it through Argument.Metrics.
type Metrics struct {
	TotalInputBlocks   int64
	TotalInputRows     int64
	TotalOutputBlocks  int64
	TotalOutputRows    int64
	TotalSpillBytes    int64
	TotalSpillMillis   int64
	TotalReadMillis    int64
	TotalScatterMillis int64
}

func (m Metrics) String() string {
	return fmtMetrics(m)
}
