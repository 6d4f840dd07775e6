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

package memoracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualOracleInitialValue(t *testing.T) {
	m := NewManualOracle(100)
	assert.EqualValues(t, 100, m.CurrentUsage())
}

func TestManualOracleSet(t *testing.T) {
	m := NewManualOracle(100)
	m.Set(500)
	assert.EqualValues(t, 500, m.CurrentUsage())
}

func TestManualOracleAdd(t *testing.T) {
	m := NewManualOracle(100)
	m.Add(50)
	m.Add(-25)
	assert.EqualValues(t, 125, m.CurrentUsage())
}

func TestRuntimeOracleReportsPositiveUsage(t *testing.T) {
	var o RuntimeOracle
	assert.Greater(t, o.CurrentUsage(), int64(0))
}

func TestMemoryOracleInterfaceSatisfiedByBoth(t *testing.T) {
	var _ MemoryOracle = RuntimeOracle{}
	var _ MemoryOracle = NewManualOracle(0)
}
