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

// merge.go is the C4 Merge Core: spec.md section 4.4's ingest() decision
// table, the two-branch memory predicate it drives, and the
// extendBuckets()/rehashState() pair that predicate falls back on once a
// flushAll() alone isn't enough to relieve pressure.
package gracemerge

import (
	"time"

	"github.com/gracehash/mergeagg/pkg/aggregator"
	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/errs"
	"github.com/gracehash/mergeagg/pkg/logging"
)

// ingest implements spec.md section 4.4's ingest(batch) procedure: react to
// memory pressure first, then either absorb the batch straight into the
// current bucket's AggregationState (it is empty, already tagged for the
// current bucket count, or B==1) or scatter it and route each sub-batch.
func (arg *Argument) ingest(b *batch.Batch) error {
	if b == nil || b.IsEmpty() {
		return nil
	}
	ctr := arg.ctr

	if arg.overBudget() {
		if err := arg.flushAll(); err != nil {
			return err
		}
		if arg.overBudget() {
			if err := arg.extendBuckets(); err != nil {
				return err
			}
			if err := arg.rehashState(); err != nil {
				return err
			}
		}
	}

	bucketCount := len(ctr.buckets)
	if bucketCount == 1 || b.BucketTag == bucketCount {
		return arg.absorbCurrent(b)
	}

	for bkt, sub := range routeBatch(b, bucketCount) {
		if sub == nil {
			continue
		}
		if err := arg.routeSubBatch(bkt, sub); err != nil {
			return err
		}
	}
	return nil
}

// routeSubBatch feeds a single-bucket sub-batch into whichever of "absorb
// now" or "queue for later" its bucket index calls for. Any index below
// current_bucket is impossible under a correct extendBuckets/rehashState
// (doubling B only ever moves a bucket's rows to itself or a higher index)
// and signals a bucket-tag invariant violation instead of being silently
// dropped.
func (arg *Argument) routeSubBatch(bkt int, sub *batch.Batch) error {
	ctr := arg.ctr
	switch {
	case bkt == ctr.currentBucket:
		return arg.absorbCurrent(sub)
	case bkt > ctr.currentBucket:
		ctr.buckets[bkt].append(sub)
		return nil
	default:
		return errs.InternalInvariant(
			"gracemerge: batch routed to already-finalized bucket %d (current_bucket=%d)", bkt, ctr.currentBucket)
	}
}

// absorbCurrent merges sub into the live AggregationState for current_bucket.
func (arg *Argument) absorbCurrent(sub *batch.Batch) error {
	if sub == nil || sub.IsEmpty() {
		return nil
	}
	var noMoreKeys bool
	return arg.Aggregator.MergeOnBlock(sub, arg.ctr.state, &noMoreKeys)
}

// overBudget implements the two-branch memory predicate of spec.md section
// 4.4. Once per_key_memory_estimate has been populated by a rehash, it
// predicts overflow from the current group count instead of waiting for the
// oracle to actually report it; before that, a conservative half-usage
// trigger forces an early rehash purely to populate the estimate. Spec.md
// section 9: do not collapse these into a single predicate — the cold-start
// branch is what makes the predictive branch possible in the first place.
func (arg *Argument) overBudget() bool {
	if arg.Config.MaxMemory <= 0 {
		return false
	}
	capBytes := float64(arg.Config.MaxMemory) * arg.Config.OverflowRatio
	usage := float64(arg.Oracle.CurrentUsage())

	if arg.ctr.perKeyMemoryEstimate > 0 {
		groups := float64(aggregator.GroupCount(arg.ctr.state))
		return usage+arg.ctr.perKeyMemoryEstimate*groups >= capBytes
	}
	return usage*2 >= float64(arg.Config.MaxMemory)
}

// extendBuckets doubles the bucket count, failing with ResourceExhausted if
// doing so would exceed max_buckets. New slots start empty.
func (arg *Argument) extendBuckets() error {
	ctr := arg.ctr
	oldCount := len(ctr.buckets)
	newCount := oldCount * 2
	if newCount > arg.Config.MaxBuckets {
		return errs.ResourceExhausted(
			"gracemerge: extendBuckets would grow bucket count %d -> %d past max_buckets=%d",
			oldCount, newCount, arg.Config.MaxBuckets)
	}
	for i := oldCount; i < newCount; i++ {
		ctr.buckets = append(ctr.buckets, &bucket{})
	}
	logging.Infof("gracemerge: extended bucket count %d -> %d", oldCount, newCount)
	return nil
}

// rehashState implements spec.md section 4.4's rehashState(): convert the
// current bucket's AggregationState back to batches, discard it, create a
// fresh empty one, then rescatter every produced batch under the new bucket
// count — current_bucket's share re-enters the fresh state, every other
// share is queued for its bucket. The total bytes and rows observed across
// this pass become the new per_key_memory_estimate, the one place that
// estimate is ever computed.
func (arg *Argument) rehashState() error {
	ctr := arg.ctr
	if ctr.state == nil {
		return nil
	}

	blocks, err := arg.Aggregator.ConvertToBlocks(ctr.state, false, 1)
	if err != nil {
		return err
	}
	ctr.state = arg.Aggregator.NewState()

	start := time.Now()
	var totalBytes, totalRows int64
	bucketCount := len(ctr.buckets)

	for _, blk := range blocks {
		raw, err := blk.MarshalBinary()
		if err != nil {
			return errs.IO(err, "gracemerge: measure rehash block")
		}
		totalBytes += int64(len(raw))
		totalRows += int64(blk.RowCount())

		for bkt, sub := range routeBatch(blk, bucketCount) {
			if sub == nil {
				continue
			}
			if err := arg.routeSubBatch(bkt, sub); err != nil {
				return err
			}
		}
	}

	if totalRows > 0 {
		ctr.perKeyMemoryEstimate = float64(totalBytes) / float64(totalRows)
	}
	ctr.metrics.TotalScatterMillis += time.Since(start).Milliseconds()
	logging.Infof("gracemerge: rehashed %d rows (%d bytes) at bucket_count=%d, per_key_memory_estimate=%.2f",
		totalRows, totalBytes, bucketCount, ctr.perKeyMemoryEstimate)
	return nil
}
