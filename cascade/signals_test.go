package cascade

import (
	"context"
	"errors"
	"testing"
)

func signalsTable() *Table {
	return &Table{Schema: "public", Name: "users", PKColumn: "id", Columns: []string{"id", "name"}}
}

func TestSignalHubConnectDisconnect(t *testing.T) {
	hub := NewSignalHub()
	tab := signalsTable()

	if hub.HasReceivers(PreSave, tab) {
		t.Fatal("fresh hub must have no receivers")
	}
	disconnect := hub.Connect(PreSave, tab, func(ctx context.Context, rec *Record) error { return nil })
	if !hub.HasReceivers(PreSave, tab) {
		t.Fatal("connected receiver not visible")
	}
	if hub.HasReceivers(PostSave, tab) {
		t.Error("receiver must be scoped to its signal")
	}
	disconnect()
	if hub.HasReceivers(PreSave, tab) {
		t.Error("disconnected receiver still visible")
	}
}

func TestSignalHubFiresInConnectionOrder(t *testing.T) {
	hub := NewSignalHub()
	tab := signalsTable()

	var order []string
	hub.Connect(PostDelete, tab, func(ctx context.Context, rec *Record) error {
		order = append(order, "first")
		return nil
	})
	hub.Connect(PostDelete, tab, func(ctx context.Context, rec *Record) error {
		order = append(order, "second")
		return nil
	})

	recs := []*Record{NewRecord(tab, map[string]any{"id": int64(1)})}
	if err := hub.send(context.Background(), PostDelete, recs); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("firing order = %v", order)
	}
}

func TestSignalHubReceiverErrorAborts(t *testing.T) {
	hub := NewSignalHub()
	tab := signalsTable()
	boom := errors.New("boom")

	calls := 0
	hub.Connect(PreDelete, tab, func(ctx context.Context, rec *Record) error {
		calls++
		return boom
	})
	hub.Connect(PreDelete, tab, func(ctx context.Context, rec *Record) error {
		calls++
		return nil
	})

	recs := []*Record{
		NewRecord(tab, map[string]any{"id": int64(1)}),
		NewRecord(tab, map[string]any{"id": int64(2)}),
	}
	err := hub.send(context.Background(), PreDelete, recs)
	if !errors.Is(err, boom) {
		t.Fatalf("expected receiver error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("later receivers must not run after an error, calls = %d", calls)
	}
}

func TestSignalHubScopedByTable(t *testing.T) {
	hub := NewSignalHub()
	users := signalsTable()
	orgs := &Table{Schema: "public", Name: "orgs", PKColumn: "id", Columns: []string{"id"}}

	fired := 0
	hub.Connect(PreSave, users, func(ctx context.Context, rec *Record) error {
		fired++
		return nil
	})

	recs := []*Record{NewRecord(orgs, map[string]any{"id": int64(1)})}
	if err := hub.send(context.Background(), PreSave, recs); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Errorf("receiver for users fired for orgs, count = %d", fired)
	}
}
