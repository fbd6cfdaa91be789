// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"errors"
	"log/slog"
)

// StoreConfig holds tuning knobs for a Store.
type StoreConfig struct {
	// MaxBatchSize caps the planner's computed insert batch size (0 = no cap).
	MaxBatchSize int

	// FetchChunkSize bounds the id chunks used by the deletion collector
	// when it fetches referencing rows (0 = library default).
	FetchChunkSize int

	// Metrics receives per-stage timings when set.
	Metrics StageMetricsRecorder
}

// Store is the entry point for bulk writes, many-to-many management and
// cascading deletes over one executor. It is safe for concurrent use; all
// mutable state lives in the database.
type Store struct {
	exec     Executor
	registry *Registry
	logger   *slog.Logger
	signals  *SignalHub
	config   *StoreConfig
}

// NewStore creates a store over exec using the relation metadata in
// registry. A nil logger falls back to slog.Default().
func NewStore(exec Executor, registry *Registry, config *StoreConfig, logger *slog.Logger) (*Store, error) {
	if exec == nil {
		return nil, errors.New("cascade: executor is required")
	}
	if registry == nil {
		return nil, errors.New("cascade: registry is required")
	}
	if config == nil {
		config = &StoreConfig{}
	}
	if config.FetchChunkSize <= 0 {
		config.FetchChunkSize = fetchChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		exec:     exec,
		registry: registry,
		logger:   logger,
		signals:  NewSignalHub(),
		config:   config,
	}, nil
}

// WithExecutor returns a store bound to exec that shares this store's
// registry, signal hub and configuration. Use it to run operations inside a
// caller-managed transaction.
func (s *Store) WithExecutor(exec Executor) *Store {
	clone := *s
	clone.exec = exec
	return &clone
}

// Registry returns the relation metadata the store operates on.
func (s *Store) Registry() *Registry { return s.registry }

// Signals returns the store's signal hub.
func (s *Store) Signals() *SignalHub { return s.signals }

// Dialect returns the active executor's dialect.
func (s *Store) Dialect() Dialect { return s.exec.Dialect() }
