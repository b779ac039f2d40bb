package jobstore

import (
	"context"
	"testing"
)

func TestSQLiteRecordAndList(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	recs := []Record{
		{JobID: "j1", Repo: "r1", Commit: "c1", Command: "make check", Queue: "ci", Status: "0", Worker: "w1", RuntimeMs: 1200},
		{JobID: "j2", Repo: "r1", Commit: "c2", Command: "make check", Queue: "ci", Status: "1", Worker: "w1", RuntimeMs: 500},
		{JobID: "j3", Repo: "r2", Commit: "c3", Command: "make test", Queue: "nightly", Status: "0", Worker: "w2", RuntimeMs: 3000},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	filtered, err := s.List(ctx, Filter{Repo: "r1"})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 records for r1, got %d", len(filtered))
	}

	limited, err := s.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 record, got %d", len(limited))
	}
}

func TestSQLiteRecordUpsert(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Record(ctx, Record{JobID: "j1", Repo: "r1", Status: "running"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Record{JobID: "j1", Repo: "r1", Status: "0", RuntimeMs: 42}); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected upsert to keep 1 row, got %d", len(all))
	}
	if all[0].Status != "0" || all[0].RuntimeMs != 42 {
		t.Errorf("unexpected upserted record: %+v", all[0])
	}
}

func TestOpenDispatch(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected SQLiteStore for non-postgres dsn, got %T", s)
	}
}
