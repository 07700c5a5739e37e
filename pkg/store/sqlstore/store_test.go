package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := PoolConfig{
		DSN:             "file::memory:?cache=shared",
		DriverName:      "sqlite3",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewPoolFailFast(t *testing.T) {
	cases := []PoolConfig{
		{DriverName: "sqlite3"},
		{DSN: "file::memory:"},
		{DSN: "file::memory:", DriverName: "sqlite3", MaxOpenConns: 0},
		{DSN: "file::memory:", DriverName: "sqlite3", MaxOpenConns: 1, MaxIdleConns: -1},
		{DSN: "file::memory:", DriverName: "sqlite3", MaxOpenConns: 1, MaxIdleConns: 5},
	}
	for _, c := range cases {
		if _, err := newPool(c); !core.IsCode(err, core.CodeInvalidInput) {
			t.Errorf("config %+v: expected CodeInvalidInput, got %v", c, err)
		}
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := "hello"
	d := document.New(document.Document{State: "link", Content: &content})

	ids, err := s.Add(ctx, []*document.Document{d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(ctx, ids[0], true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.State != "link" || *got.Content != "hello" {
		t.Fatalf("unexpected round-trip result: %+v", got)
	}
}

func TestAddConflictOnDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d1 := document.New(document.Document{ID: "dup-sql", State: "link"})
	d2 := document.New(document.Document{ID: "dup-sql", State: "link"})
	if _, err := s.Add(ctx, []*document.Document{d1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.Add(ctx, []*document.Document{d2})
	if !core.IsCode(err, core.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestUpdateMergesMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := document.New(document.Document{State: "link", Metadata: map[string]interface{}{"keep": "me"}})
	ids, _ := s.Add(ctx, []*document.Document{d})

	updated, err := s.Update(ctx, store.ByID(ids[0]), map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Metadata["k"] != "v" || updated.Metadata["keep"] != "me" {
		t.Fatalf("unexpected metadata: %+v", updated.Metadata)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := document.New(document.Document{State: "link"})
	ids, _ := s.Add(ctx, []*document.Document{parent})
	parentID := ids[0]

	child := document.New(document.Document{State: "download", ParentID: &parentID})
	childIDs, _ := s.Add(ctx, []*document.Document{child})

	if err := s.Delete(ctx, parentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d, _ := s.Get(ctx, childIDs[0], false); d != nil {
		t.Fatalf("expected cascade delete to remove child")
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := document.New(document.Document{State: "link"})
	var insertedID string
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		ids, err := tx.Add(ctx, []*document.Document{d})
		if err != nil {
			return err
		}
		insertedID = ids[0]
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatalf("expected the injected error to propagate")
	}
	got, _ := s.Get(ctx, insertedID, false)
	if got != nil {
		t.Fatalf("expected insert to be rolled back, found %+v", got)
	}
}
