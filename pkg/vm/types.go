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

// Package vm defines the pull-based operator contract the grace-hash
// merging aggregator and its test fixtures implement: Prepare once, then
// Call repeatedly until the pipeline reports ExecStop. It is trimmed from
// the teacher's vm package down to the single-pipeline, single-parallelism
// shape this module needs; the teacher's OpType enumerates dozens of SQL
// operators, instruction-list wiring, and cross-CN addressing that have no
// analogue here.
package vm

import (
	"bytes"
	"time"

	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/process"
)

// OpType identifies an operator's kind for logging and String().
type OpType int

const (
	Source OpType = iota
	MergeAggregate
	Sink
)

func (t OpType) String() string {
	switch t {
	case Source:
		return "source"
	case MergeAggregate:
		return "merge_aggregate"
	case Sink:
		return "sink"
	default:
		return "unknown"
	}
}

// ExecStatus is the result of one Call: whether the pipeline should be
// driven again, has more output buffered for this same Call window, or is
// finished.
type ExecStatus int

const (
	ExecStop ExecStatus = iota
	ExecNext
	ExecHasMore
)

// CallResult is what every Operator.Call returns: the status plus, when
// there is one, the batch produced.
type CallResult struct {
	Status ExecStatus
	Batch  *batch.Batch
}

// NewCallResult returns the default result: keep going, no batch yet.
func NewCallResult() CallResult {
	return CallResult{Status: ExecNext}
}

// CancelResult is returned by an operator that observed its Process's
// context cancelled mid-Call.
var CancelResult = CallResult{Status: ExecStop}

// OperatorInfo is the static identity of an operator within its pipeline,
// set once at Prepare time.
type OperatorInfo struct {
	Idx     int
	IsFirst bool
	IsLast  bool
}

// OperatorBase is embedded by every concrete Operator; it supplies the
// child-list and identity bookkeeping that vm.Operator's interface methods
// need, so concrete operators only implement their own Prepare/Call/String.
type OperatorBase struct {
	OperatorInfo
	Children []Operator
}

func (o *OperatorBase) SetInfo(info *OperatorInfo) { o.OperatorInfo = *info }

func (o *OperatorBase) AppendChild(child Operator) { o.Children = append(o.Children, child) }

func (o *OperatorBase) NumChildren() int { return len(o.Children) }

func (o *OperatorBase) GetChild(idx int) Operator { return o.Children[idx] }

func (o *OperatorBase) GetOperatorBase() *OperatorBase { return o }

// Operator is the pull-based operator contract: Prepare once per pipeline
// instantiation, then Call repeatedly. Free/Reset/Release mirror the
// teacher's lifecycle split between "give memory back but keep reusable
// state" (Reset) and "give everything back, this operator is done"
// (Free/Release).
type Operator interface {
	OpType() OpType
	String(buf *bytes.Buffer)

	Prepare(proc *process.Process) error
	Call(proc *process.Process) (CallResult, error)

	Reset(proc *process.Process, pipelineFailed bool, err error)
	Free(proc *process.Process, pipelineFailed bool, err error)
	Release()

	SetInfo(info *OperatorInfo)
	AppendChild(child Operator)
	GetOperatorBase() *OperatorBase
}

// CancelCheck reports whether proc's context has already been cancelled,
// the first thing every Call implementation does.
func CancelCheck(proc *process.Process) (error, bool) {
	select {
	case <-proc.Ctx.Done():
		return proc.Ctx.Err(), true
	default:
		return nil, false
	}
}

// ChildrenCall invokes child.Call, charging the elapsed wall time to the
// analyzer's children-call bucket so a parent's own Stop() doesn't count
// time spent waiting on its child as its own work.
func ChildrenCall(child Operator, proc *process.Process, anal process.Analyzer) (CallResult, error) {
	start := time.Now()
	result, err := child.Call(proc)
	anal.ChildrenCallStop(start)
	return result, err
}
