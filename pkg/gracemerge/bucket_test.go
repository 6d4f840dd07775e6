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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/memoracle"
)

func newSpillArgument(t *testing.T, numBuckets int) *Argument {
	t.Helper()
	store := newTestSpillStore(t)
	arg := &Argument{
		Config:     DefaultConfig(),
		Aggregator: newTestAggregator(),
		SpillStore: store,
		Oracle:     memoracle.NewManualOracle(0),
	}
	buckets := make([]*bucket, numBuckets)
	for i := range buckets {
		buckets[i] = &bucket{}
	}
	arg.ctr = &container{
		inputHeader: keyBatch().Schema,
		buckets:     buckets,
	}
	return arg
}

func TestBucketAppendIsNoOpForEmptyBatch(t *testing.T) {
	bk := &bucket{}
	bk.append(keyBatch())
	assert.Empty(t, bk.queue)
}

func TestFlushIsNoOpOnEmptyQueue(t *testing.T) {
	arg := newSpillArgument(t, 2)
	n, err := arg.flush(1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, arg.ctr.buckets[1].stream)
}

func TestFlushWritesQueuedBatchesAndClearsQueue(t *testing.T) {
	arg := newSpillArgument(t, 2)
	b := keyBatch("a", "a", "b")
	b.BucketTag = 2
	arg.ctr.buckets[1].append(b)

	n, err := arg.flush(1)
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
	assert.Empty(t, arg.ctr.buckets[1].queue)
	assert.NotNil(t, arg.ctr.buckets[1].stream)
}

func TestFlushConcatenatesOnlyConsecutiveSameTagRuns(t *testing.T) {
	arg := newSpillArgument(t, 2)
	first := keyBatch("a")
	first.BucketTag = 2
	second := keyBatch("b")
	second.BucketTag = 4 // B doubled between the two appends
	third := keyBatch("c")
	third.BucketTag = 4

	arg.ctr.buckets[1].append(first)
	arg.ctr.buckets[1].append(second)
	arg.ctr.buckets[1].append(third)

	_, err := arg.flush(1)
	require.NoError(t, err)

	require.NoError(t, arg.ctr.buckets[1].stream.FinishWriting())
	var tags []int
	for {
		blk, err := arg.ctr.buckets[1].stream.Read()
		require.NoError(t, err)
		if blk == nil {
			break
		}
		tags = append(tags, blk.BucketTag)
	}
	// The run of tag=2 and the run of tag=4 are written as two separate
	// batches, never concatenated across the tag boundary.
	assert.Equal(t, []int{2, 4}, tags)
}

func TestFlushAllOnlySpillsBucketsPastCurrent(t *testing.T) {
	arg := newSpillArgument(t, 3)
	arg.ctr.currentBucket = 1
	for i := range arg.ctr.buckets {
		b := keyBatch("x")
		b.BucketTag = 3
		arg.ctr.buckets[i].append(b)
	}

	require.NoError(t, arg.flushAll())

	assert.NotEmpty(t, arg.ctr.buckets[0].queue, "bucket at/behind current_bucket is untouched by flushAll")
	assert.Nil(t, arg.ctr.buckets[0].stream)
	assert.Nil(t, arg.ctr.buckets[1].stream, "current_bucket itself is never flushed")
	assert.NotNil(t, arg.ctr.buckets[2].stream)
	assert.Greater(t, arg.ctr.metrics.TotalSpillBytes, int64(0))
}

func TestDrainYieldsStreamThenResidualQueueInOrder(t *testing.T) {
	arg := newSpillArgument(t, 1)
	spilled := keyBatch("a")
	spilled.BucketTag = 1
	arg.ctr.buckets[0].append(spilled)
	_, err := arg.flush(0)
	require.NoError(t, err)

	late := keyBatch("b")
	arg.ctr.buckets[0].append(late)

	out, err := arg.drain(0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, batch.Key("a"), out[0].Keys[0])
	assert.Equal(t, batch.Key("b"), out[1].Keys[0])
}

func TestDrainReleasesStreamAndClearsBucket(t *testing.T) {
	arg := newSpillArgument(t, 1)
	b := keyBatch("a")
	b.BucketTag = 1
	arg.ctr.buckets[0].append(b)
	_, err := arg.flush(0)
	require.NoError(t, err)

	_, err = arg.drain(0)
	require.NoError(t, err)
	assert.Nil(t, arg.ctr.buckets[0].stream)
	assert.Empty(t, arg.ctr.buckets[0].queue)
}

func TestDrainOnNeverFlushedBucketYieldsQueueOnly(t *testing.T) {
	arg := newSpillArgument(t, 1)
	b := keyBatch("a", "b")
	arg.ctr.buckets[0].append(b)

	out, err := arg.drain(0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].RowCount())
}
