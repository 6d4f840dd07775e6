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

	"github.com/gracehash/mergeagg/pkg/aggregator"
	"github.com/gracehash/mergeagg/pkg/errs"
	"github.com/gracehash/mergeagg/pkg/memoracle"
)

func newIngestArgument(t *testing.T, cfg Config, oracle memoracle.MemoryOracle, numBuckets int) *Argument {
	t.Helper()
	agg := newTestAggregator()
	store := newTestSpillStore(t)
	arg := &Argument{Config: cfg, Aggregator: agg, SpillStore: store, Oracle: oracle}

	buckets := make([]*bucket, numBuckets)
	for i := range buckets {
		buckets[i] = &bucket{}
	}
	arg.ctr = &container{
		inputHeader: keyBatch().Schema,
		buckets:     buckets,
		state:       agg.NewState(),
	}
	return arg
}

func TestOverBudgetRespectsUnboundedMaxMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemory = 0
	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(1<<40), 1)
	assert.False(t, arg.overBudget())
}

func TestOverBudgetColdStartUsesHalfUsageTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemory = 100
	cfg.OverflowRatio = 0.5

	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(49), 1)
	assert.False(t, arg.overBudget(), "below half of max_memory, no estimate yet")

	arg.Oracle = memoracle.NewManualOracle(51)
	assert.True(t, arg.overBudget(), "at/above half of max_memory trips the cold-start branch")
}

func TestOverBudgetPredictiveBranchUsesPerKeyEstimate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemory = 1000
	cfg.OverflowRatio = 0.8 // cap = 800

	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(100), 1)
	require.NoError(t, arg.absorbCurrent(keyBatch("a", "b", "c"))) // 3 groups
	arg.ctr.perKeyMemoryEstimate = 50

	// 100 + 50*3 = 250 < 800: still under budget.
	assert.False(t, arg.overBudget())

	arg.ctr.perKeyMemoryEstimate = 300
	// 100 + 300*3 = 1000 >= 800: over budget.
	assert.True(t, arg.overBudget())
}

func TestExtendBucketsDoublesBucketCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBuckets = 16
	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(0), 2)

	require.NoError(t, arg.extendBuckets())
	assert.Len(t, arg.ctr.buckets, 4)
	for _, bk := range arg.ctr.buckets {
		assert.Empty(t, bk.queue)
		assert.Nil(t, bk.stream)
	}
}

func TestExtendBucketsFailsPastMaxBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBuckets = 2
	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(0), 2)

	err := arg.extendBuckets()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindResourceExhausted, kind)
	assert.Len(t, arg.ctr.buckets, 2, "a failed extend leaves the bucket array untouched")
}

func TestRehashStatePopulatesPerKeyMemoryEstimate(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 2)
	require.NoError(t, arg.absorbCurrent(keyBatch("a", "a", "b")))
	assert.Zero(t, arg.ctr.perKeyMemoryEstimate)

	require.NoError(t, arg.rehashState())
	assert.Greater(t, arg.ctr.perKeyMemoryEstimate, float64(0))
	// Groups that now hash to bucket 1 leave the state for that bucket's
	// queue, one row per group.
	queued := 0
	for _, blk := range arg.ctr.buckets[1].queue {
		queued += blk.RowCount()
	}
	assert.Equal(t, 2, aggregator.GroupCount(arg.ctr.state)+queued, "rehash must not lose or duplicate a group")
}

func TestRehashStateRoutesFutureBucketsToQueueNotCurrent(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 4)
	arg.ctr.currentBucket = 0

	var keys []string
	for i := 0; i < 40; i++ {
		keys = append(keys, string(rune('a'+i)))
	}
	for _, k := range keys {
		require.NoError(t, arg.absorbCurrent(keyBatch(k)))
	}

	require.NoError(t, arg.rehashState())

	residentGroups := aggregator.GroupCount(arg.ctr.state)
	queued := 0
	for b := 1; b < len(arg.ctr.buckets); b++ {
		for _, blk := range arg.ctr.buckets[b].queue {
			queued += blk.RowCount()
		}
	}
	assert.Equal(t, len(keys), residentGroups+queued, "every key ends up either resident in bucket 0 or queued ahead")
}

func TestRehashStateIsNoOpWithNilState(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 1)
	arg.ctr.state = nil
	assert.NoError(t, arg.rehashState())
}

func TestIngestZeroRowBatchIsNoOp(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 1)
	require.NoError(t, arg.ingest(keyBatch()))
	assert.Equal(t, 0, aggregator.GroupCount(arg.ctr.state))
}

func TestIngestSingleBucketAbsorbsDirectly(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 1)
	require.NoError(t, arg.ingest(keyBatch("a", "a", "b")))
	assert.Equal(t, 2, aggregator.GroupCount(arg.ctr.state))
}

func TestIngestAlreadyTaggedBatchSkipsRescatter(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 4)
	b := keyBatch("a")
	b.BucketTag = 4 // already scattered for the current bucket count
	require.NoError(t, arg.ingest(b))
	assert.Equal(t, 1, aggregator.GroupCount(arg.ctr.state))
}

func TestIngestUnboundedMemoryNeverExtendsOrFlushes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemory = 0
	arg := newIngestArgument(t, cfg, memoracle.NewManualOracle(1<<40), 1)

	require.NoError(t, arg.ingest(keyBatch("a", "b", "c")))
	assert.Equal(t, 1, len(arg.ctr.buckets))
	assert.Zero(t, arg.ctr.metrics.TotalSpillBytes)
}

func TestIngestRejectsSubBatchRoutedBehindCurrentBucket(t *testing.T) {
	arg := newIngestArgument(t, DefaultConfig(), memoracle.NewManualOracle(0), 2)
	arg.ctr.currentBucket = 1 // nothing should ever route to bucket 0 again

	err := arg.routeSubBatch(0, keyBatch("a"))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInternalInvariant, kind)
}
