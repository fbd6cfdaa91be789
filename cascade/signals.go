// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"sort"
	"sync"
)

// Signal identifies a lifecycle hook point.
type Signal int

const (
	PreSave Signal = iota
	PostSave
	PreDelete
	PostDelete
)

func (s Signal) String() string {
	switch s {
	case PreSave:
		return "pre_save"
	case PostSave:
		return "post_save"
	case PreDelete:
		return "pre_delete"
	case PostDelete:
		return "post_delete"
	}
	return "unknown"
}

// Receiver is invoked synchronously per record. An error aborts the
// surrounding operation, which keeps the all-or-nothing transaction
// discipline intact.
type Receiver func(ctx context.Context, rec *Record) error

type signalKey struct {
	sig   Signal
	table string
}

// SignalHub routes lifecycle signals to connected receivers. Connected
// receivers disable the fast insert and fast delete paths for their table,
// since those paths never materialize per-row records.
type SignalHub struct {
	mu        sync.RWMutex
	nextID    int
	receivers map[signalKey]map[int]Receiver
}

// NewSignalHub creates an empty hub.
func NewSignalHub() *SignalHub {
	return &SignalHub{receivers: make(map[signalKey]map[int]Receiver)}
}

// Connect registers fn for sig on table and returns a disconnect func.
func (h *SignalHub) Connect(sig Signal, table *Table, fn Receiver) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := signalKey{sig: sig, table: table.Key()}
	if h.receivers[k] == nil {
		h.receivers[k] = make(map[int]Receiver)
	}
	id := h.nextID
	h.nextID++
	h.receivers[k][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.receivers[k], id)
	}
}

// HasReceivers reports whether any receiver is connected for sig on table.
func (h *SignalHub) HasReceivers(sig Signal, table *Table) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.receivers[signalKey{sig: sig, table: table.Key()}]) > 0
}

// send fires sig for every record in order. Receiver IDs are iterated in
// ascending order so firing is deterministic.
func (h *SignalHub) send(ctx context.Context, sig Signal, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	h.mu.RLock()
	m := h.receivers[signalKey{sig: sig, table: recs[0].Table.Key()}]
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Receiver, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	h.mu.RUnlock()

	for _, rec := range recs {
		for _, fn := range fns {
			if err := fn(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
