package cas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"plan":{"min_pct":10}}`)
	digest, _, err := Sum(payload)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}

	for name, store := range testStores(t) {
		if err := store.Put(ctx, NamespaceProofs, digest.Hex(), payload); err != nil {
			t.Fatalf("%s: Put: %v", name, err)
		}
		got, err := store.Get(ctx, NamespaceProofs, digest.Hex())
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if string(got) != string(payload) {
			t.Fatalf("%s: payload mismatch: %s", name, got)
		}
		// 同一哈希重复写入等价于一次写入。
		if err := store.Put(ctx, NamespaceProofs, digest.Hex(), payload); err != nil {
			t.Fatalf("%s: idempotent Put failed: %v", name, err)
		}
		if _, err := store.Get(ctx, NamespaceValidations, digest.Hex()); !errors.Is(err, ErrPackageNotFound) {
			t.Fatalf("%s: namespaces must be isolated, got %v", name, err)
		}
	}
}

func TestStoreGetMissingIsRecoverable(t *testing.T) {
	ctx := context.Background()
	digest, _, _ := Sum(map[string]string{"missing": "yes"})

	for name, store := range testStores(t) {
		_, err := store.Get(ctx, NamespaceProofs, digest.Hex())
		if !errors.Is(err, ErrPackageNotFound) {
			t.Fatalf("%s: expected ErrPackageNotFound, got %v", name, err)
		}
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		if err := store.Put(ctx, NamespaceProofs, "nothex", []byte("{}")); err == nil {
			t.Fatalf("%s: invalid hash accepted", name)
		}
		if err := store.Put(ctx, Namespace("other"), validTestHash(t), []byte("{}")); err == nil {
			t.Fatalf("%s: invalid namespace accepted", name)
		}
	}
}

func TestFileStoreLayoutMatchesToolchain(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	hash := validTestHash(t)

	if err := store.Put(ctx, NamespaceProofs, hash, []byte(`{"p":1}`)); err != nil {
		t.Fatalf("Put proofs: %v", err)
	}
	if err := store.Put(ctx, NamespaceValidations, hash, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put validations: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "data", hash+".json")); err != nil {
		t.Fatalf("proof file missing from data/: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "validations", hash+".json")); err != nil {
		t.Fatalf("validation file missing from validations/: %v", err)
	}
}

func TestMemoryStoreConcurrentPut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	payloads := [][]byte{
		[]byte(`{"n":1}`), []byte(`{"n":2}`), []byte(`{"n":3}`), []byte(`{"n":4}`),
	}

	var wg sync.WaitGroup
	for _, payload := range payloads {
		digest, _, err := Sum(payload)
		if err != nil {
			t.Fatalf("Sum: %v", err)
		}
		wg.Add(1)
		go func(hash string, body []byte) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := store.Put(ctx, NamespaceProofs, hash, body); err != nil {
					t.Errorf("Put %s: %v", hash, err)
					return
				}
			}
		}(digest.Hex(), payload)
	}
	wg.Wait()

	for _, payload := range payloads {
		digest, _, _ := Sum(payload)
		got, err := store.Get(ctx, NamespaceProofs, digest.Hex())
		if err != nil {
			t.Fatalf("Get after concurrent Put: %v", err)
		}
		if string(got) != string(payload) {
			t.Fatalf("payload corrupted: %s", got)
		}
	}
}

func validTestHash(t *testing.T) string {
	t.Helper()
	d, _, err := Sum(map[string]string{"fixture": "hash"})
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	return d.Hex()
}
