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

// bucket.go is the C3 Spill Manager of spec.md section 4.3: one entry per
// bucket index b in [0, B), each owning an in-memory FIFO queue of batches
// and a lazily-created append-only stream. Every batch queued for a bucket
// carries bucket_tag = B at the time it was appended; flush concatenates
// only maximal runs of same-tagged batches before writing, since a doubled
// B between two appends means the queue can hold batches tagged for two
// different bucket counts at once.
package gracemerge

import (
	"time"

	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/errs"
	"github.com/gracehash/mergeagg/pkg/logging"
	"github.com/gracehash/mergeagg/pkg/spillstore"
)

// bucket holds one partition's not-yet-finalized rows: whatever hasn't been
// spilled yet sits in queue; stream is nil until the first flush.
type bucket struct {
	queue  []*batch.Batch
	stream spillstore.Stream
}

// append pushes b onto the bucket's queue; a no-op for an empty batch.
func (bk *bucket) append(b *batch.Batch) {
	if b == nil || b.IsEmpty() {
		return
	}
	bk.queue = append(bk.queue, b)
}

// flush drains bucket idx's queue to its stream (creating the stream on
// first use), concatenating maximal runs of consecutive same-tagged batches
// into one write apiece, and returns the number of bytes written — measured
// from each run's gob-encoded wire size before the SpillStore stores it
// (the pebble reference implementation lz4-compresses that encoding, so
// the bytes it persists can be fewer).
func (arg *Argument) flush(idx int) (int64, error) {
	bk := arg.ctr.buckets[idx]
	if len(bk.queue) == 0 {
		return 0, nil
	}
	if bk.stream == nil {
		stream, err := arg.SpillStore.CreateStream(arg.ctr.inputHeader)
		if err != nil {
			return 0, errs.IO(err, "gracemerge: create spill stream for bucket %d", idx)
		}
		bk.stream = stream
	}

	var bytesWritten int64
	i := 0
	for i < len(bk.queue) {
		run := bk.queue[i].Dup()
		j := i + 1
		for j < len(bk.queue) && bk.queue[j].BucketTag == run.BucketTag {
			run.Concat(bk.queue[j])
			j++
		}

		start := time.Now()
		raw, err := run.MarshalBinary()
		if err != nil {
			return bytesWritten, errs.IO(err, "gracemerge: measure spill batch for bucket %d", idx)
		}
		if err := bk.stream.Write(run); err != nil {
			return bytesWritten, err
		}
		bytesWritten += int64(len(raw))
		if arg.analyzer != nil {
			arg.analyzer.SpillWrite(run, time.Since(start))
		}
		i = j
	}
	bk.queue = nil
	return bytesWritten, nil
}

// flushAll flushes every bucket past current_bucket (spec.md section 4.3):
// rows destined for a future bucket can't be merged in memory yet, so they
// must move to disk to relieve pressure.
func (arg *Argument) flushAll() error {
	ctr := arg.ctr
	before := arg.Oracle.CurrentUsage()
	start := time.Now()

	var total int64
	for b := ctr.currentBucket + 1; b < len(ctr.buckets); b++ {
		n, err := arg.flush(b)
		if err != nil {
			return err
		}
		total += n
	}

	elapsed := time.Since(start)
	ctr.metrics.TotalSpillBytes += total
	ctr.metrics.TotalSpillMillis += elapsed.Milliseconds()
	logging.Infof("gracemerge: flushAll wrote %d bytes in %v (memory %d -> %d bytes)",
		total, elapsed, before, arg.Oracle.CurrentUsage())
	return nil
}

// drain finalizes bucket idx's stream for reading, yields every batch it
// holds in write order, then any residual queue entries it never flushed,
// and releases the stream once exhausted.
func (arg *Argument) drain(idx int) ([]*batch.Batch, error) {
	bk := arg.ctr.buckets[idx]
	start := time.Now()

	var out []*batch.Batch
	if bk.stream != nil {
		if err := bk.stream.FinishWriting(); err != nil {
			return nil, err
		}
		for {
			blk, err := bk.stream.Read()
			if err != nil {
				return nil, err
			}
			if blk == nil {
				break
			}
			out = append(out, blk)
		}
		if err := bk.stream.Release(); err != nil {
			return nil, err
		}
		bk.stream = nil
	}
	out = append(out, bk.queue...)
	bk.queue = nil

	elapsed := time.Since(start)
	arg.ctr.metrics.TotalReadMillis += elapsed.Milliseconds()
	if arg.analyzer != nil {
		var rowSample *batch.Batch
		if len(out) > 0 {
			rowSample = out[0]
		}
		arg.analyzer.SpillRead(rowSample, elapsed)
	}
	return out, nil
}
