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

import "fmt"

// Metrics returns a snapshot of the operator's destruction-time
// observability record (spec.md section 6). Safe to call after Free, but
// Free drops the record, so a call after Free returns a zero Metrics; the
// host's metrics sink (out of scope for this module) reads it before Free.
func (arg *Argument) Metrics() Metrics {
	if arg.ctr == nil {
		return Metrics{}
	}
	return arg.ctr.metrics
}

func fmtMetrics(m Metrics) string {
	return fmt.Sprintf("inBlocks=%d inRows=%d outBlocks=%d outRows=%d spillBytes=%d spillMs=%d readMs=%d scatterMs=%d",
		m.TotalInputBlocks, m.TotalInputRows, m.TotalOutputBlocks, m.TotalOutputRows,
		m.TotalSpillBytes, m.TotalSpillMillis, m.TotalReadMillis, m.TotalScatterMillis)
}
