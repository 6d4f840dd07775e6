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

// ports.go is the C1 port driver: the Prepare/Call pair that realizes
// spec.md's prepare()/work() state machine on top of vm.Operator. Call does
// the combined decide-then-act spec.md splits into prepare (decide) and
// work (act); there is no separate decide step because vm.Operator gives
// an operator exactly one entry point per scheduling turn (see DESIGN.md
// OQ-1 for the full mapping from NeedData/PortFull/Ready/Finished onto
// vm.ExecStop/ExecNext/ExecHasMore).
package gracemerge

import (
	"github.com/gracehash/mergeagg/pkg/errs"
	"github.com/gracehash/mergeagg/pkg/process"
	"github.com/gracehash/mergeagg/pkg/vm"
)

// Prepare validates the operator's configuration and wiring and builds a
// fresh container with a single bucket (current_bucket, spanning the whole
// key space) and its empty AggregationState.
func (arg *Argument) Prepare(proc *process.Process) error {
	if err := arg.Config.Validate(); err != nil {
		return err
	}
	if arg.Aggregator == nil {
		return errs.InternalInvariant("gracemerge: Prepare called with a nil Aggregator")
	}
	if arg.SpillStore == nil {
		return errs.InternalInvariant("gracemerge: Prepare called with a nil SpillStore")
	}
	if arg.Oracle == nil {
		return errs.InternalInvariant("gracemerge: Prepare called with a nil MemoryOracle")
	}

	if arg.analyzer == nil {
		arg.analyzer = process.NewAnalyzer(arg.IsFirst, arg.IsLast, "merge_aggregate")
	} else {
		arg.analyzer.Reset()
	}

	arg.ctr = &container{
		inputHeader: arg.InputHeader,
		buckets:     []*bucket{{}},
		state:       arg.Aggregator.NewState(),
	}
	return nil
}

// Call drives the operator one scheduling turn: while consuming, pull and
// ingest exactly one batch from the child and report ExecNext so the
// scheduler calls again; once the child is exhausted, switch to draining
// every bucket's finalized output, one chunk per Call, reporting
// ExecHasMore while chunks remain and ExecStop once fully drained.
func (arg *Argument) Call(proc *process.Process) (vm.CallResult, error) {
	if err, isCancel := vm.CancelCheck(proc); isCancel {
		return vm.CancelResult, err
	}

	arg.analyzer.Start()
	defer arg.analyzer.Stop()

	result := vm.NewCallResult()
	ctr := arg.ctr

	switch ctr.currentPhase {
	case phaseDone:
		result.Status = vm.ExecStop
		return result, nil

	case phaseDrain:
		return arg.callDrain(result)

	default: // phaseConsume
		childResult, err := vm.ChildrenCall(arg.GetOperatorBase().GetChild(0), proc, arg.analyzer)
		if err != nil {
			return result, err
		}
		arg.analyzer.Input(childResult.Batch)

		if childResult.Batch == nil || childResult.Batch.IsEmpty() {
			if childResult.Status == vm.ExecStop {
				ctr.currentPhase = phaseDrain
				return arg.callDrain(result)
			}
			result.Status = vm.ExecNext
			return result, nil
		}

		ctr.metrics.TotalInputBlocks++
		ctr.metrics.TotalInputRows += int64(childResult.Batch.RowCount())

		if err := arg.ingest(childResult.Batch); err != nil {
			return result, err
		}
		result.Status = vm.ExecNext
		return result, nil
	}
}

func (arg *Argument) callDrain(result vm.CallResult) (vm.CallResult, error) {
	ctr := arg.ctr
	for len(ctr.pendingOutput) == 0 {
		if ctr.currentBucket >= len(ctr.buckets) {
			ctr.currentPhase = phaseDone
			result.Status = vm.ExecStop
			return result, nil
		}
		chunks, err := arg.finalizeCurrentBucket()
		if err != nil {
			return result, err
		}
		ctr.pendingOutput = append(ctr.pendingOutput, chunks...)
	}

	result.Batch = ctr.pendingOutput[0]
	ctr.pendingOutput = ctr.pendingOutput[1:]
	ctr.metrics.TotalOutputBlocks++
	ctr.metrics.TotalOutputRows += int64(result.Batch.RowCount())
	arg.analyzer.Output(result.Batch)

	if len(ctr.pendingOutput) > 0 || ctr.currentBucket < len(ctr.buckets) {
		result.Status = vm.ExecHasMore
	} else {
		result.Status = vm.ExecStop
		ctr.currentPhase = phaseDone
	}
	return result, nil
}
