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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsZeroMaxBuckets(t *testing.T) {
	c := DefaultConfig()
	c.MaxBuckets = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsOutOfRangeOverflowRatio(t *testing.T) {
	c := DefaultConfig()
	c.OverflowRatio = 0
	assert.Error(t, c.Validate())

	c.OverflowRatio = 1.5
	assert.Error(t, c.Validate())
}

func TestLoadConfigFillsOnlyOptionalDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_memory = 0\nmax_buckets = 8\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.EqualValues(t, 0, cfg.MaxMemory, "explicit max_memory=0 must stay unbounded, not fall back to the default cap")
	assert.Equal(t, 8, cfg.MaxBuckets)
	assert.Equal(t, DefaultConfig().OverflowRatio, cfg.OverflowRatio)
	assert.Equal(t, DefaultConfig().ChunkSize, cfg.ChunkSize)
}

func TestLoadConfigMissingFileIsIOError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}
