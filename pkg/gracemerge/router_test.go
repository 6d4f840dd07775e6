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
)

func TestBucketIndexIsLowBitsMask(t *testing.T) {
	assert.Equal(t, 0, bucketIndex(0b1010, 1))
	assert.Equal(t, 0b10, bucketIndex(0b1010, 4))
	assert.Equal(t, 0b1010, bucketIndex(0b1010, 16))
}

func TestBucketIndexStableUnderDoubling(t *testing.T) {
	// Doubling B must only ever move a key to itself or itself+B_old, never
	// to an unrelated bucket — the property rehashState/extendBuckets rely on.
	for hash := uint64(0); hash < 4096; hash++ {
		oldB, newB := 4, 8
		oldIdx := bucketIndex(hash, oldB)
		newIdx := bucketIndex(hash, newB)
		assert.Contains(t, []int{oldIdx, oldIdx + oldB}, newIdx)
	}
}

func TestRouteBatchScattersRowsByBucket(t *testing.T) {
	schema := batch.Schema{KeyColumns: 1, StateColumns: 1}
	b := batch.New(schema)
	for i := 0; i < 40; i++ {
		b.AppendRow(batch.Key([]byte{byte(i), byte(i * 7)}), []any{int64(1)})
	}

	parts := routeBatch(b, 4)
	require.Len(t, parts, 4)

	total := 0
	for bkt, p := range parts {
		if p == nil {
			continue
		}
		total += p.RowCount()
		assert.Equal(t, 4, p.BucketTag)
		for i := 0; i < p.RowCount(); i++ {
			assert.Equal(t, bkt, bucketIndex(batch.HashKey(p.Keys[i]), 4))
		}
	}
	assert.Equal(t, b.RowCount(), total)
}

func TestRouteBatchPreservesRowContent(t *testing.T) {
	schema := batch.Schema{KeyColumns: 1, StateColumns: 1}
	b := batch.New(schema)
	b.AppendRow(batch.Key("only-key"), []any{int64(42)})

	parts := routeBatch(b, 1)
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0])
	assert.Equal(t, batch.Key("only-key"), parts[0].Keys[0])
	assert.Equal(t, int64(42), parts[0].States[0][0])
	assert.Equal(t, 1, parts[0].BucketTag)
}

func TestRouteBatchWithSingleBucketKeepsEveryRow(t *testing.T) {
	schema := batch.Schema{KeyColumns: 1, StateColumns: 1}
	b := batch.New(schema)
	for i := 0; i < 10; i++ {
		b.AppendRow(batch.Key([]byte{byte(i)}), []any{int64(1)})
	}

	parts := routeBatch(b, 1)
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0])
	assert.Equal(t, 10, parts[0].RowCount())
}
