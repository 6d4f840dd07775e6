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

// router.go implements spec.md section 4.2's Bucket Router: a flat,
// power-of-two bucket count B, with bucket index b = hash(key) mod B taken
// from the hash's low bits (B a power of two, so mod reduces to a mask).
// Doubling B never invalidates an existing bucket's rows: a key that hashed
// to bucket b under B_old still hashes to either b or b+B_old under
// B_new=2*B_old, since the extra bit B_new adds is the next bit up from the
// ones B_old already masked. rehashState() and extendBuckets() in merge.go
// rely on exactly that property to redistribute a bucket's rows without
// touching any bucket below it.
package gracemerge

import "github.com/gracehash/mergeagg/pkg/batch"

// bucketIndex returns hash mod B for a power-of-two B.
func bucketIndex(hash uint64, b int) int {
	return int(hash & uint64(b-1))
}

// routeBatch scatters b's rows into B per-bucket sub-batches by key hash,
// tagging each one bucket_tag = B (spec.md section 3). Entries for buckets
// that received no rows are nil.
func routeBatch(b *batch.Batch, bucketCount int) []*batch.Batch {
	indices := make([][]int, bucketCount)
	for row := 0; row < b.RowCount(); row++ {
		h := batch.HashKey(b.Keys[row])
		bkt := bucketIndex(h, bucketCount)
		indices[bkt] = append(indices[bkt], row)
	}

	out := make([]*batch.Batch, bucketCount)
	for bkt, idx := range indices {
		if len(idx) == 0 {
			continue
		}
		sub := b.Select(idx)
		sub.BucketTag = bucketCount
		out[bkt] = sub
	}
	return out
}
