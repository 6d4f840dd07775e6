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

import "github.com/cespare/xxhash/v2"

// HashKey hashes a composite group key deterministically and with enough
// avalanche on its low bits that the flat router's hash & (B-1) spreads keys
// across buckets: when B doubles, a key in bucket b moves only to b or
// b+B_old (see gracemerge/router.go). xxhash.Sum64 is already a transitive
// dependency of the pebble-backed SpillStore.
func HashKey(k Key) uint64 {
	return xxhash.Sum64(k)
}
