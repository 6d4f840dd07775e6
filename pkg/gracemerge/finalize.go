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

// finalize.go is the C5 Finalizer of spec.md section 4.5: once the child is
// exhausted, buckets finalize one at a time in index order. Draining
// current_bucket replays its queued and spilled rows back through C4's
// ingest(), since a rehash/extend during that replay is allowed to spill
// rows forward into buckets still ahead of current_bucket — never behind it.
package gracemerge

import "github.com/gracehash/mergeagg/pkg/batch"

// finalizeCurrentBucket finalizes bucket current_bucket: ensure a live
// state, drain the bucket's queue/stream through ingest(), convert the
// resulting state to finalized output batches, then advance to the next
// bucket and drop the state so it is recreated empty next time.
func (arg *Argument) finalizeCurrentBucket() ([]*batch.Batch, error) {
	ctr := arg.ctr
	if ctr.state == nil {
		ctr.state = arg.Aggregator.NewState()
	}

	drained, err := arg.drain(ctr.currentBucket)
	if err != nil {
		return nil, err
	}
	for _, blk := range drained {
		if err := arg.ingest(blk); err != nil {
			return nil, err
		}
	}

	out, err := arg.Aggregator.ConvertToBlocks(ctr.state, true, 1)
	if err != nil {
		return nil, err
	}

	ctr.currentBucket++
	ctr.state = nil
	return out, nil
}
