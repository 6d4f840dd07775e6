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
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gracehash/mergeagg/pkg/aggregator"
	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/errs"
)

// These scenarios mirror the operator's end-to-end behavior under memory
// pressure, written BDD-style against the full Argument rather than a
// single collaborator — the ports_test.go scenario functions cover the
// same ground more tersely; this file exists for the cases where spelling
// out the sequence of "given/when/then" reads clearer than a flat test.

func TestSpillAndRehashScenarios(t *testing.T) {
	Convey("Given a many-distinct-key workload under sustained memory pressure", t, func() {
		agg := aggregator.New([]aggregator.Spec{{Op: aggregator.Count}}, 0)
		cfg := DefaultConfig()
		cfg.MaxMemory = 1000
		cfg.OverflowRatio = 0.5
		cfg.MaxBuckets = 16

		var keys []string
		for i := 0; i < 4; i++ {
			for j := 0; j < 50; j++ {
				keys = append(keys, fmt.Sprintf("k-%d-%d", i, j))
			}
		}
		batches := []*batch.Batch{
			countKeyBatch(keys[0:50]...),
			countKeyBatch(keys[50:100]...),
			countKeyBatch(keys[100:150]...),
			countKeyBatch(keys[150:200]...),
		}

		Convey("When memory pressure is reported only on the very first ingest", func() {
			// Four "high" reads cover the first ingest: its first budget
			// check, flushAll's two usage readings, and its second budget
			// check, which then forces the doubling.
			oracle := &countdownOracle{remaining: 4, high: 600, low: 0}
			h := newTestHarness(t, agg, cfg, oracle, batches)
			out := h.run(t)

			Convey("Then every distinct key is counted exactly once, with no row lost or duplicated across the doubling", func() {
				counts := countsByKey(out)
				So(len(counts), ShouldEqual, len(keys))
				for _, k := range keys {
					So(counts[k], ShouldEqual, 1)
				}
			})

			Convey("And the bucket count was doubled", func() {
				So(len(h.arg.ctr.buckets), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When max_buckets leaves no headroom for even a single doubling", func() {
			cfg.MaxBuckets = 1
			oracle := &countdownOracle{remaining: 8, high: 600, low: 600}
			h := newTestHarness(t, agg, cfg, oracle, batches)

			Convey("Then ingest fails with ResourceExhausted instead of looping forever", func() {
				So(h.arg.Prepare(h.proc), ShouldBeNil)

				var lastErr error
				for i := 0; i < len(batches); i++ {
					_, err := h.arg.Call(h.proc)
					if err != nil {
						lastErr = err
						break
					}
				}
				So(lastErr, ShouldNotBeNil)
				kind, ok := errs.KindOf(lastErr)
				So(ok, ShouldBeTrue)
				So(kind, ShouldEqual, errs.KindResourceExhausted)

				So(func() { h.arg.Free(h.proc, true, lastErr) }, ShouldNotPanic)
			})
		})
	})

	Convey("Given an adversarial input where every row shares one key", t, func() {
		agg := aggregator.New([]aggregator.Spec{{Op: aggregator.Count}}, 0)
		cfg := DefaultConfig()
		cfg.MaxMemory = 1000
		cfg.OverflowRatio = 0.8
		cfg.MaxBuckets = 16

		var keys []string
		for i := 0; i < 500; i++ {
			keys = append(keys, "X")
		}

		Convey("When the oracle reports pressure only briefly, then settles", func() {
			// A constant reading this high would keep the operator doubling
			// buckets, since a single key's rows never move out of whichever
			// bucket they first land in. Here only the first budget check
			// and flushAll's opening usage reading get "high"; the second
			// budget check reads "low", so the run neither extends nor
			// rehashes.
			oracle := &countdownOracle{remaining: 2, high: 900, low: 10}
			h := newTestHarness(t, agg, cfg, oracle, []*batch.Batch{countKeyBatch(keys...)})
			out := h.run(t)

			Convey("Then the operator completes without ResourceExhausted", func() {
				counts := countsByKey(out)
				So(len(counts), ShouldEqual, 1)
				So(counts["X"], ShouldEqual, int64(len(keys)))
			})

			Convey("And every input row was counted as ingested", func() {
				So(h.arg.Metrics().TotalInputRows, ShouldEqual, int64(len(keys)))
			})
		})
	})
}
