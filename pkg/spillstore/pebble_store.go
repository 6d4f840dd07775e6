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

package spillstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pierrec/lz4"

	"github.com/gracehash/mergeagg/pkg/batch"
	"github.com/gracehash/mergeagg/pkg/errs"
	"github.com/gracehash/mergeagg/pkg/logging"
)

// rowKeyLen is 1 prefix byte + 8 bytes stream id + 8 bytes sequence number.
const rowKeyLen = 1 + 8 + 8

const rowKeyPrefix = 's'

// PebbleStore is the reference SpillStore: every bucket's spilled rows land
// in one shared pebble.DB, keyed by (streamID, seq) so a stream's rows sort
// together and a range scan reads them back in write order. Values are
// lz4-compressed gob encodings of batch.Batch, the same split the teacher's
// SpillManager makes between its binary header/row framing and the actual
// batch payload.
type PebbleStore struct {
	db      *pebble.DB
	dir     string
	removeOnCleanup bool
	counter atomic.Int64

	mu      sync.Mutex
	streams map[int64]struct{}
	closed  bool
}

// Open opens (creating if necessary) a pebble-backed spill store rooted at
// dir. If dir is empty, a temporary directory is created and removed on
// Cleanup, matching how transient a grace-hash spill's durable footprint is
// meant to be.
func Open(dir string) (*PebbleStore, error) {
	removeOnCleanup := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "gracehash-spill-*")
		if err != nil {
			return nil, errs.IO(err, "spillstore: create temp dir")
		}
		dir = tmp
		removeOnCleanup = true
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errs.IO(err, "spillstore: open pebble db at %s", dir)
	}
	return &PebbleStore{db: db, dir: dir, removeOnCleanup: removeOnCleanup, streams: make(map[int64]struct{})}, nil
}

func rowKey(streamID, seq int64) []byte {
	k := make([]byte, rowKeyLen)
	k[0] = rowKeyPrefix
	binary.BigEndian.PutUint64(k[1:9], uint64(streamID))
	binary.BigEndian.PutUint64(k[9:17], uint64(seq))
	return k
}

func streamBounds(streamID int64) (lower, upper []byte) {
	lower = rowKey(streamID, 0)
	upper = rowKey(streamID+1, 0)
	return
}

func (s *PebbleStore) CreateStream(header batch.Schema) (Stream, error) {
	id := s.counter.Add(1)
	s.mu.Lock()
	s.streams[id] = struct{}{}
	s.mu.Unlock()
	return &pebbleStream{store: s, header: header, streamID: id}, nil
}

// Cleanup drops every row this store ever wrote and closes the database.
// Calls after the first return nil without touching the closed database.
func (s *PebbleStore) Cleanup() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]int64, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.streams = make(map[int64]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		lower, upper := streamBounds(id)
		if err := s.db.DeleteRange(lower, upper, pebble.NoSync); err != nil {
			return errs.IO(err, "spillstore: delete range for stream %d", id)
		}
	}
	if err := s.db.Close(); err != nil {
		return errs.IO(err, "spillstore: close db")
	}
	if s.removeOnCleanup {
		_ = os.RemoveAll(s.dir)
	}
	return nil
}

type pebbleStream struct {
	store    *PebbleStore
	header   batch.Schema
	streamID int64
	seq      int64
	finished bool

	iter     *pebble.Iterator
	iterOpen bool
}

func (st *pebbleStream) Write(b *batch.Batch) error {
	if st.finished {
		return errs.InternalInvariant("spillstore: write after FinishWriting on stream %d", st.streamID)
	}
	if b == nil || b.IsEmpty() {
		return nil
	}
	raw, err := b.MarshalBinary()
	if err != nil {
		return errs.IO(err, "spillstore: marshal batch for stream %d", st.streamID)
	}
	compressed, err := compress(raw)
	if err != nil {
		return errs.IO(err, "spillstore: compress batch for stream %d", st.streamID)
	}
	key := rowKey(st.streamID, st.seq)
	start := time.Now()
	if err := st.store.db.Set(key, compressed, pebble.NoSync); err != nil {
		return errs.IO(err, "spillstore: write row for stream %d", st.streamID)
	}
	logging.Debugf("spillstore: wrote %d rows (%d bytes compressed) to stream %d in %v",
		b.RowCount(), len(compressed), st.streamID, time.Since(start))
	st.seq++
	return nil
}

func (st *pebbleStream) FinishWriting() error {
	st.finished = true
	return nil
}

// Read returns the next batch in write order, or a nil batch once the
// stream is exhausted (per the SpillStore.Stream contract).
func (st *pebbleStream) Read() (*batch.Batch, error) {
	if !st.finished {
		return nil, errs.InternalInvariant("spillstore: read before FinishWriting on stream %d", st.streamID)
	}
	if !st.iterOpen {
		lower, upper := streamBounds(st.streamID)
		iter := st.store.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
		st.iter = iter
		st.iterOpen = true
		if !iter.First() {
			return nil, nil
		}
	} else {
		if !st.iter.Next() {
			return nil, nil
		}
	}
	start := time.Now()
	raw, err := decompress(st.iter.Value())
	if err != nil {
		return nil, errs.IO(err, "spillstore: decompress row for stream %d", st.streamID)
	}
	b := &batch.Batch{}
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, errs.IO(err, "spillstore: unmarshal row for stream %d", st.streamID)
	}
	if b.Schema != st.header && !b.IsEmpty() {
		logging.Warnf("spillstore: stream %d row schema %+v differs from declared header %+v", st.streamID, b.Schema, st.header)
	}
	logging.Debugf("spillstore: read %d rows from stream %d in %v", b.RowCount(), st.streamID, time.Since(start))
	return b, nil
}

func (st *pebbleStream) Release() error {
	if st.iterOpen {
		err := st.iter.Close()
		st.iterOpen = false
		if err != nil {
			return errs.IO(err, "spillstore: close iterator for stream %d", st.streamID)
		}
	}
	return nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("spillstore: lz4 decode: %w", err)
	}
	return out, nil
}
