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

// Package batch is the row/column container the grace-hash merging
// aggregator and its collaborators pass around. It plays the role the
// teacher's container/batch.Batch and container/vector.Vector packages play
// in the original engine, collapsed into one small opaque-state-friendly
// type: the core never inspects key bytes beyond hashing them, and never
// inspects state column contents at all (that is the Aggregator's job).
package batch

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func init() {
	// Column elements are interface{}; gob requires every concrete type
	// that can appear in one registered before it will decode a spilled
	// batch. int64/float64 are the primitive partial-state representations
	// this package's own tests and callers use directly; an Aggregator
	// implementation registers whatever richer accumulator types it adds.
	gob.Register(int64(0))
	gob.Register(float64(0))
}

// Schema describes the row shape: an ordered list of key columns followed
// by one or more state columns, per spec.md section 3.
type Schema struct {
	KeyColumns   int
	StateColumns int
}

// Key is a pre-serialized, deterministic, comparable composite group key.
type Key []byte

// Column is one state column, column-major: Column[i] is row i's opaque
// partial-aggregate value for that column. The core never interprets these
// values; only the Aggregator collaborator does.
type Column []any

// Batch is a column-major set of rows carrying Schema plus the bucket_tag
// metadata of spec.md section 3: -1 means unpartitioned, a non-negative
// value records the bucket count the batch was last partitioned for.
type Batch struct {
	Schema    Schema
	BucketTag int
	Keys      []Key
	States    []Column
}

// UnpartitionedTag is the sentinel bucket_tag meaning "not yet scattered".
const UnpartitionedTag = -1

// New builds an empty batch for the given schema, tagged unpartitioned.
func New(schema Schema) *Batch {
	return &Batch{
		Schema:    schema,
		BucketTag: UnpartitionedTag,
		Keys:      nil,
		States:    make([]Column, schema.StateColumns),
	}
}

// RowCount returns the number of rows in the batch.
func (b *Batch) RowCount() int {
	if b == nil {
		return 0
	}
	return len(b.Keys)
}

// IsEmpty reports whether the batch has zero rows.
func (b *Batch) IsEmpty() bool {
	return b.RowCount() == 0
}

// Clean releases the batch's storage. Included for symmetry with the
// teacher's Batch.Clean(mp) even though this module has no custom
// allocator to return memory to; it exists so call sites read the same way
// they would against a real memory-pooled batch.
func (b *Batch) Clean() {
	if b == nil {
		return
	}
	b.Keys = nil
	b.States = nil
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch(rows=%d, tag=%d, keyCols=%d, stateCols=%d)",
		b.RowCount(), b.BucketTag, b.Schema.KeyColumns, b.Schema.StateColumns)
}

// AppendRow appends one row (a key plus one value per state column) to b.
func (b *Batch) AppendRow(key Key, values []any) {
	b.Keys = append(b.Keys, key)
	if len(b.States) == 0 {
		b.States = make([]Column, len(values))
	}
	for i, v := range values {
		b.States[i] = append(b.States[i], v)
	}
}

// Select returns a new batch containing only the rows at the given indices,
// preserving b's schema and bucket tag. Used by the bucket router to
// scatter a batch into per-bucket sub-batches.
func (b *Batch) Select(indices []int) *Batch {
	out := &Batch{
		Schema:    b.Schema,
		BucketTag: b.BucketTag,
		Keys:      make([]Key, len(indices)),
		States:    make([]Column, len(b.States)),
	}
	for i, idx := range indices {
		out.Keys[i] = b.Keys[idx]
	}
	for c := range b.States {
		col := make(Column, len(indices))
		for i, idx := range indices {
			col[i] = b.States[c][idx]
		}
		out.States[c] = col
	}
	return out
}

// Concat appends other's rows onto b in place and returns b. Both batches
// must share the same bucket tag; used by the spill manager to coalesce
// maximal same-tag runs before a disk write.
func (b *Batch) Concat(other *Batch) *Batch {
	if other == nil || other.RowCount() == 0 {
		return b
	}
	if b.RowCount() == 0 {
		b.Schema = other.Schema
		b.BucketTag = other.BucketTag
	}
	b.Keys = append(b.Keys, other.Keys...)
	if len(b.States) == 0 {
		b.States = make([]Column, len(other.States))
	}
	for i := range other.States {
		b.States[i] = append(b.States[i], other.States[i]...)
	}
	return b
}

// Dup returns a deep-enough copy of b (independent Keys/States slices; the
// opaque state values themselves are shared, matching the Aggregator's
// ownership contract of never mutating a value in place outside MergeOnBlock).
func (b *Batch) Dup() *Batch {
	out := &Batch{
		Schema:    b.Schema,
		BucketTag: b.BucketTag,
		Keys:      make([]Key, len(b.Keys)),
		States:    make([]Column, len(b.States)),
	}
	copy(out.Keys, b.Keys)
	for i, col := range b.States {
		c := make(Column, len(col))
		copy(c, col)
		out.States[i] = c
	}
	return out
}

type wireBatch struct {
	Schema    Schema
	BucketTag int
	Keys      []Key
	States    []Column
}

// MarshalBinary gob-encodes the batch for the SpillStore reference
// implementation. State values must themselves be gob-registered concrete
// types (the reference Aggregator registers its own accumulator types).
func (b *Batch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := wireBatch{Schema: b.Schema, BucketTag: b.BucketTag, Keys: b.Keys, States: b.States}
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("batch: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a batch written by MarshalBinary.
func (b *Batch) UnmarshalBinary(data []byte) error {
	var w wireBatch
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("batch: unmarshal: %w", err)
	}
	b.Schema, b.BucketTag, b.Keys, b.States = w.Schema, w.BucketTag, w.Keys, w.States
	return nil
}
