package jobstore

import (
	"context"
	"strings"
	"testing"
)

func TestWithEncryptionRoundTripsCommand(t *testing.T) {
	sqlite, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer sqlite.Close()

	store, err := WithEncryption(sqlite, "s3cret")
	if err != nil {
		t.Fatalf("WithEncryption: %v", err)
	}

	ctx := context.Background()
	if err := store.Record(ctx, Record{JobID: "j1", Repo: "r1", Commit: "c1", Command: "deploy --token abc123"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	raw, err := sqlite.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("raw List: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected 1 row, got %d", len(raw))
	}
	if strings.Contains(raw[0].Command, "abc123") || !strings.HasPrefix(raw[0].Command, encryptedCommandPrefix) {
		t.Errorf("expected command to be encrypted at rest, got %q", raw[0].Command)
	}

	decrypted, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("decrypted List: %v", err)
	}
	if len(decrypted) != 1 || decrypted[0].Command != "deploy --token abc123" {
		t.Fatalf("expected decrypted command, got %+v", decrypted)
	}
}

func TestWithEncryptionPassesThroughPlaintextHistory(t *testing.T) {
	sqlite, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer sqlite.Close()
	if err := sqlite.Record(context.Background(), Record{JobID: "old", Repo: "r1", Command: "make test"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	store, err := WithEncryption(sqlite, "s3cret")
	if err != nil {
		t.Fatalf("WithEncryption: %v", err)
	}
	recs, err := store.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].Command != "make test" {
		t.Fatalf("expected pre-existing plaintext row unchanged, got %+v", recs)
	}
}

func TestWithEncryptionNoSecretIsNoop(t *testing.T) {
	sqlite, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer sqlite.Close()

	store, err := WithEncryption(sqlite, "")
	if err != nil {
		t.Fatalf("WithEncryption: %v", err)
	}
	if store != Store(sqlite) {
		t.Error("expected empty secret to return the store unchanged")
	}
}
