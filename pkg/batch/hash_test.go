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

package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKeyIsDeterministic(t *testing.T) {
	k := Key("group-42")
	assert.Equal(t, HashKey(k), HashKey(Key("group-42")))
}

func TestHashKeyDiffersAcrossKeys(t *testing.T) {
	assert.NotEqual(t, HashKey(Key("a")), HashKey(Key("b")))
}

func TestHashKeyLowBitsSpreadAcrossDepth(t *testing.T) {
	// A handful of distinct keys should not all land in the same low bit,
	// or doubling the router's bucket count could never split them apart.
	seen := map[uint64]bool{}
	for i := 0; i < 64; i++ {
		k := Key([]byte{byte(i)})
		seen[HashKey(k)&1] = true
	}
	assert.Len(t, seen, 2)
}
