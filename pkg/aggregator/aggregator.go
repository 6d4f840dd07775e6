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

// Package aggregator is the reference implementation of the Aggregator
// collaborator spec.md treats as opaque (the "aggregation-state algebra",
// e.g. sum/count/avg combine rules). The merging aggregator core never
// imports this package's internals directly — only the aggregator.Aggregator
// interface — so a real deployment can swap in the host engine's own typed
// vector/hashmap machinery (the teacher's container/vector + common/hashmap)
// without touching pkg/gracemerge.
//
// This reference implementation is deliberately a plain Go map keyed by the
// serialized group key, generalized from the teacher's group/execctx.go
// (ResHashRelated, GroupResultBuffer) shape: a hash table from key to an
// accumulator slice, with chunked output via a result-buffer abstraction.
// The teacher's version operates on typed vector.Vector columns; this one
// operates on the opaque batch.Column representation this module uses
// instead, because the typed-vector machinery belongs to the excluded
// aggregation-state-algebra subsystem.
package aggregator

import (
	"encoding/gob"
	"fmt"

	"github.com/gracehash/mergeagg/pkg/batch"
)

func init() {
	// batch.Column elements are interface{}; gob needs every concrete type
	// that can appear in one registered before it will decode a spilled
	// batch written by this package.
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(AvgPartial{})
}

// Op identifies which combine rule an aggregate column uses.
type Op int

const (
	Count Op = iota
	Sum
	Min
	Max
	Avg
)

func (o Op) String() string {
	switch o {
	case Count:
		return "count"
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	case Avg:
		return "avg"
	default:
		return "unknown"
	}
}

// AvgPartial is the opaque partial-state representation for avg: a running
// sum and a running count, combined associatively and divided only at
// finalization.
type AvgPartial struct {
	Sum   float64
	Count int64
}

// Spec describes one aggregate output column.
type Spec struct {
	Op Op
}

type groupAccum struct {
	key    batch.Key
	values []any // one per Spec, holding the op's partial-state representation
}

// State is the opaque AggregationState handle of spec.md section 6: the
// core stores it, passes it back into MergeOnBlock/ConvertToBlocks, and
// never looks inside it.
type State = any

// hashState is this package's concrete State: one live hash table of
// partial states for the bucket currently being merged.
type hashState struct {
	groups map[string]*groupAccum
	order  []string
}

func newHashState() *hashState {
	return &hashState{groups: make(map[string]*groupAccum)}
}

// GroupCount returns the number of distinct groups currently accumulated in
// s, the "G" term the merge core's memory predicate consults. Returns 0 if s
// was not produced by this package's Aggregator.
func GroupCount(s State) int {
	hs, ok := s.(*hashState)
	if !ok {
		return 0
	}
	return len(hs.groups)
}

// Aggregator is the collaborator interface spec.md section 6 describes:
// merge a partial batch into a running state, and convert that state back
// into output or intermediate batches.
type Aggregator interface {
	NewState() State
	MergeOnBlock(b *batch.Batch, state State, noMoreKeys *bool) error
	ConvertToBlocks(state State, final bool, concurrency int) ([]*batch.Batch, error)
	GetHeader(inputHeader batch.Schema, final bool) batch.Schema
}

// HashAggregator merges partial-aggregate batches into a hash table of
// partial states and converts that hash table back into batches, either as
// an intermediate (rehash) or finalized (output) representation.
type HashAggregator struct {
	specs     []Spec
	chunkSize int
}

var _ Aggregator = (*HashAggregator)(nil)

// New builds a HashAggregator for the given aggregate specs. chunkSize caps
// how many rows ConvertToBlocks packs into one output batch; <=0 means
// unbounded (one batch).
func New(specs []Spec, chunkSize int) *HashAggregator {
	if chunkSize <= 0 {
		chunkSize = 1 << 30
	}
	return &HashAggregator{specs: specs, chunkSize: chunkSize}
}

// NewState creates a fresh, empty AggregationState.
func (a *HashAggregator) NewState() State { return newHashState() }

// GetHeader answers the output-schema query of spec.md section 6. When
// final is false (rehash), the output representation is identical to the
// input's partial representation, since rehashed batches must be able to
// re-enter MergeOnBlock later. When final is true, there is exactly one
// state column per aggregate spec, holding the finalized value.
func (a *HashAggregator) GetHeader(inputHeader batch.Schema, final bool) batch.Schema {
	if !final {
		return inputHeader
	}
	return batch.Schema{KeyColumns: inputHeader.KeyColumns, StateColumns: len(a.specs)}
}

// MergeOnBlock accumulates one partial batch into state. noMoreKeys is
// carried through for interface fidelity with spec.md's collaborator
// contract; this reference implementation's hash table never refuses new
// groups, so it is always left false.
func (a *HashAggregator) MergeOnBlock(b *batch.Batch, state State, noMoreKeys *bool) error {
	hs, ok := state.(*hashState)
	if !ok {
		return fmt.Errorf("aggregator: state was not created by HashAggregator.NewState")
	}
	if noMoreKeys != nil {
		*noMoreKeys = false
	}
	if b == nil || b.RowCount() == 0 {
		return nil
	}
	if len(b.States) != len(a.specs) {
		return fmt.Errorf("aggregator: batch has %d state columns, want %d", len(b.States), len(a.specs))
	}
	for row := 0; row < b.RowCount(); row++ {
		key := b.Keys[row]
		ks := string(key)
		g, ok := hs.groups[ks]
		if !ok {
			g = &groupAccum{key: append(batch.Key(nil), key...), values: make([]any, len(a.specs))}
			hs.groups[ks] = g
			hs.order = append(hs.order, ks)
		}
		for j, spec := range a.specs {
			merged, err := mergePartial(spec.Op, g.values[j], b.States[j][row])
			if err != nil {
				return err
			}
			g.values[j] = merged
		}
	}
	return nil
}

// ConvertToBlocks materializes state as one or more batches, chunked at
// a.chunkSize rows, either as finalized output (final=true) or as an
// intermediate partial representation suitable for MergeOnBlock again
// (final=false, used by rehashState()).
func (a *HashAggregator) ConvertToBlocks(state State, final bool, concurrency int) ([]*batch.Batch, error) {
	hs, ok := state.(*hashState)
	if !ok {
		return nil, fmt.Errorf("aggregator: state was not created by HashAggregator.NewState")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	schema := a.GetHeader(batch.Schema{KeyColumns: 1, StateColumns: len(a.specs)}, final)

	var out []*batch.Batch
	var cur *batch.Batch
	flush := func() {
		if cur != nil && cur.RowCount() > 0 {
			out = append(out, cur)
		}
		cur = batch.New(schema)
	}
	flush()

	for _, ks := range hs.order {
		g := hs.groups[ks]
		if g == nil {
			continue
		}
		values := make([]any, len(a.specs))
		for j, spec := range a.specs {
			if final {
				values[j] = finalizeValue(spec.Op, g.values[j])
			} else {
				values[j] = g.values[j]
			}
		}
		cur.AppendRow(g.key, values)
		if cur.RowCount() >= a.chunkSize {
			flush()
		}
	}
	if cur != nil && cur.RowCount() > 0 {
		out = append(out, cur)
	}
	return out, nil
}

func mergePartial(op Op, acc, incoming any) (any, error) {
	if incoming == nil {
		return acc, nil
	}
	switch op {
	case Count:
		a, _ := acc.(int64)
		b, ok := incoming.(int64)
		if !ok {
			return nil, fmt.Errorf("aggregator: count expects int64 partials, got %T", incoming)
		}
		return a + b, nil
	case Sum:
		a, _ := acc.(float64)
		b, ok := incoming.(float64)
		if !ok {
			return nil, fmt.Errorf("aggregator: sum expects float64 partials, got %T", incoming)
		}
		return a + b, nil
	case Min:
		b, ok := incoming.(float64)
		if !ok {
			return nil, fmt.Errorf("aggregator: min expects float64 partials, got %T", incoming)
		}
		a, hasA := acc.(float64)
		if !hasA {
			return b, nil
		}
		if b < a {
			return b, nil
		}
		return a, nil
	case Max:
		b, ok := incoming.(float64)
		if !ok {
			return nil, fmt.Errorf("aggregator: max expects float64 partials, got %T", incoming)
		}
		a, hasA := acc.(float64)
		if !hasA {
			return b, nil
		}
		if b > a {
			return b, nil
		}
		return a, nil
	case Avg:
		b, ok := incoming.(AvgPartial)
		if !ok {
			return nil, fmt.Errorf("aggregator: avg expects AvgPartial partials, got %T", incoming)
		}
		a, _ := acc.(AvgPartial)
		return AvgPartial{Sum: a.Sum + b.Sum, Count: a.Count + b.Count}, nil
	default:
		return nil, fmt.Errorf("aggregator: unknown op %v", op)
	}
}

func finalizeValue(op Op, v any) any {
	switch op {
	case Avg:
		p, _ := v.(AvgPartial)
		if p.Count == 0 {
			return float64(0)
		}
		return p.Sum / float64(p.Count)
	default:
		return v
	}
}
