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

package process

import (
	"fmt"
	"time"

	"github.com/gracehash/mergeagg/pkg/batch"
)

// Analyzer collects the per-operator timing and volume statistics
// spec.md section 6 calls out as observable state: call count, rows in/out,
// bytes allocated, time spent waiting on children vs. doing its own work,
// and (added for this operator) rows, time and call counts of spill I/O.
type Analyzer interface {
	Start()
	Stop()
	ChildrenCallStop(since time.Time)
	Alloc(bytes int64)
	Input(b *batch.Batch)
	Output(b *batch.Batch)
	SpillWrite(b *batch.Batch, elapsed time.Duration)
	SpillRead(b *batch.Batch, elapsed time.Duration)
	GetOpStats() *OperatorStats
	Reset()
}

type analyzer struct {
	isFirst              bool
	isLast               bool
	start                time.Time
	childrenCallDuration time.Duration
	stats                *OperatorStats
}

var _ Analyzer = &analyzer{}

// NewAnalyzer builds an Analyzer for one operator instance. isFirst/isLast
// mirror the teacher's convention for deciding whether input/output byte
// counters apply to this operator (an operator in the middle of a pipeline
// does not double count its neighbors' rows).
func NewAnalyzer(isFirst, isLast bool, operatorName string) Analyzer {
	return &analyzer{isFirst: isFirst, isLast: isLast, stats: newOperatorStats(operatorName)}
}

func (a *analyzer) Reset() {
	a.childrenCallDuration = 0
	a.stats.reset()
}

func (a *analyzer) Start() {
	a.start = time.Now()
	a.childrenCallDuration = 0
}

func (a *analyzer) Stop() {
	total := time.Since(a.start) - a.childrenCallDuration
	if total < 0 {
		total = 0
	}
	a.stats.TotalTimeConsumed += total.Nanoseconds()
	a.stats.CallCount++
}

func (a *analyzer) ChildrenCallStop(since time.Time) {
	a.childrenCallDuration += time.Since(since)
}

func (a *analyzer) Alloc(n int64) {
	a.stats.TotalMemorySize += n
}

func (a *analyzer) Input(b *batch.Batch) {
	if b == nil || !a.isFirst {
		return
	}
	a.stats.TotalInputRows += int64(b.RowCount())
}

func (a *analyzer) Output(b *batch.Batch) {
	if b == nil || !a.isLast {
		return
	}
	a.stats.TotalOutputRows += int64(b.RowCount())
}

func (a *analyzer) SpillWrite(b *batch.Batch, elapsed time.Duration) {
	if b != nil {
		a.stats.TotalSpillWriteRows += int64(b.RowCount())
	}
	a.stats.TotalSpillWriteTime += elapsed.Nanoseconds()
	a.stats.SpillWriteCount++
}

func (a *analyzer) SpillRead(b *batch.Batch, elapsed time.Duration) {
	if b != nil {
		a.stats.TotalSpillReadRows += int64(b.RowCount())
	}
	a.stats.TotalSpillReadTime += elapsed.Nanoseconds()
	a.stats.SpillReadCount++
}

func (a *analyzer) GetOpStats() *OperatorStats { return a.stats }

// OperatorStats is the observable counter set for one operator instance,
// trimmed from the teacher's vm/process.OperatorStats down to what the
// merging aggregator's spill behavior adds to the usual call/row/time
// counters.
type OperatorStats struct {
	OperatorName        string `json:"-"`
	CallCount           int    `json:"CallCount,omitempty"`
	TotalTimeConsumed   int64  `json:"TotalTimeConsumed,omitempty"`
	TotalMemorySize     int64  `json:"TotalMemorySize,omitempty"`
	TotalInputRows      int64  `json:"TotalInputRows,omitempty"`
	TotalOutputRows     int64  `json:"TotalOutputRows,omitempty"`
	SpillWriteCount     int64  `json:"SpillWriteCount,omitempty"`
	TotalSpillWriteRows int64  `json:"TotalSpillWriteRows,omitempty"`
	TotalSpillWriteTime int64  `json:"TotalSpillWriteTime,omitempty"`
	SpillReadCount      int64  `json:"SpillReadCount,omitempty"`
	TotalSpillReadRows  int64  `json:"TotalSpillReadRows,omitempty"`
	TotalSpillReadTime  int64  `json:"TotalSpillReadTime,omitempty"`
}

func newOperatorStats(name string) *OperatorStats {
	return &OperatorStats{OperatorName: name}
}

func (s *OperatorStats) reset() {
	*s = OperatorStats{OperatorName: s.OperatorName}
}

func (s *OperatorStats) String() string {
	return fmt.Sprintf("%s: calls=%d time=%dns mem=%dbytes inRows=%d outRows=%d "+
		"spillWrites=%d(%dns, %drows) spillReads=%d(%dns, %drows)",
		s.OperatorName, s.CallCount, s.TotalTimeConsumed, s.TotalMemorySize,
		s.TotalInputRows, s.TotalOutputRows,
		s.SpillWriteCount, s.TotalSpillWriteTime, s.TotalSpillWriteRows,
		s.SpillReadCount, s.TotalSpillReadTime, s.TotalSpillReadRows)
}
