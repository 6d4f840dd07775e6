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

// Package logging is a small wrapper around zap, in the spirit of the
// teacher's logutil package: package-level Infof/Warnf/Errorf backed by a
// single process-wide *zap.SugaredLogger, optionally rotated to disk through
// lumberjack.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	l, _ := zap.NewProduction()
	logger = l.Sugar()
}

// FileConfig rotates logs to disk instead of stderr when non-nil.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Configure replaces the global logger. Called once at startup by whoever
// wires the operator into a real pipeline; tests leave the default in place.
func Configure(fc *FileConfig, debug bool) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	var ws zapcore.WriteSyncer
	if fc != nil {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.MaxSizeMB,
			MaxBackups: fc.MaxBackups,
			MaxAge:     fc.MaxAgeDays,
		})
	} else {
		ws = zapcore.AddSync(zapcore.Lock(zapcore.AddSync(nopSyncer{})))
	}

	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, ws, level)

	mu.Lock()
	logger = zap.New(core).Sugar()
	mu.Unlock()
}

type nopSyncer struct{}

func (nopSyncer) Write(p []byte) (int, error) { return len(p), nil }

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Infof(format string, args ...any)  { get().Infof(format, args...) }
func Warnf(format string, args ...any)  { get().Warnf(format, args...) }
func Errorf(format string, args ...any) { get().Errorf(format, args...) }
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// With returns a structured child logger carrying the given key/value pairs,
// for callers that want one structured log line rather than a formatted
// string.
func With(kv ...any) *zap.SugaredLogger {
	return get().With(kv...)
}
