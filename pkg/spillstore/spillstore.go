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

// Package spillstore is the SpillStore collaborator spec.md treats as
// opaque: a place to durably write a bucket's rows when they no longer fit
// in memory, and to stream them back in whatever order they were written.
// The reference implementation here is grounded on two teacher idioms: the
// pebble-backed engine store (vm/engine/pb/db.go, a plain pebble.Open plus
// iterator) and the group package's SpillManager file-per-spill bookkeeping
// (generateSpillFilePath, the write/read/cleanup split, logutil-style
// progress logging). Rows are lz4-compressed before they hit pebble, since
// the teacher's go.mod already carries pierrec/lz4 for exactly this kind of
// payload compression.
package spillstore

import "github.com/gracehash/mergeagg/pkg/batch"

// Stream is a single append-only, then read-only, sequence of batches
// belonging to one spilled bucket.
type Stream interface {
	// Write appends b to the stream. Only valid before FinishWriting.
	Write(b *batch.Batch) error

	// FinishWriting seals the stream; no further Write calls are valid
	// after this returns successfully.
	FinishWriting() error

	// Read returns the next batch in write order, or a nil batch once the
	// stream is exhausted. Only valid after FinishWriting.
	Read() (*batch.Batch, error)

	// Release releases any resources (open iterators, buffers) held by the
	// stream without deleting its durable data.
	Release() error
}

// SpillStore creates and manages per-bucket spill streams.
type SpillStore interface {
	// CreateStream opens a new stream whose rows share the given schema.
	// The merge core opens one stream per bucket it spills.
	CreateStream(header batch.Schema) (Stream, error)

	// Cleanup discards all streams' durable data. Called once the operator
	// is done with every bucket it spilled, successfully or not.
	Cleanup() error
}
