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
	"github.com/BurntSushi/toml"

	"github.com/gracehash/mergeagg/pkg/errs"
)

// Config holds the operator's tunables, decoded from toml the same way the
// teacher decodes its server config.
type Config struct {
	MaxMemory     int64   `toml:"max_memory"`
	MaxBuckets    int     `toml:"max_buckets"`
	OverflowRatio float64 `toml:"overflow_ratio"`
	ChunkSize     int     `toml:"chunk_size"`
}

// DefaultConfig returns the defaults: a 256 MiB memory cap, an 0.8 overflow
// ratio, at most 1024 buckets and 4096-row output chunks.
func DefaultConfig() Config {
	return Config{
		MaxMemory:     256 << 20,
		MaxBuckets:    1024,
		OverflowRatio: 0.8,
		ChunkSize:     4096,
	}
}

// LoadConfig decodes a toml config file over DefaultConfig, so an omitted
// key keeps its default, then replaces a zero or negative max_buckets,
// overflow_ratio or chunk_size with the default (see withDefaults).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errs.IO(err, "gracemerge: decode config %s", path)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero-valued optional knobs after a toml decode.
// MaxMemory is deliberately excluded: spec.md assigns 0 the meaning
// "unbounded", so a toml file that says max_memory = 0 must stay unbounded
// rather than silently falling back to DefaultConfig's cap. (A file that
// omits max_memory keeps DefaultConfig's cap, since LoadConfig decodes over
// DefaultConfig.)
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBuckets <= 0 {
		c.MaxBuckets = d.MaxBuckets
	}
	if c.OverflowRatio <= 0 {
		c.OverflowRatio = d.OverflowRatio
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	return c
}

// Validate checks the config is internally consistent, returning an
// errs.InternalInvariant on failure (a misconfigured operator is a
// programmer error, not a recoverable runtime condition).
func (c Config) Validate() error {
	if c.MaxBuckets < 1 {
		return errs.InternalInvariant("gracemerge: max_buckets must be >= 1, got %d", c.MaxBuckets)
	}
	if c.OverflowRatio <= 0 || c.OverflowRatio > 1 {
		return errs.InternalInvariant("gracemerge: overflow_ratio must be in (0, 1], got %f", c.OverflowRatio)
	}
	return nil
}
