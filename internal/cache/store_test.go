package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStorePutAndGet(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("payload")
			if err := store.Put(context.Background(), "sample", payload); err != nil {
				t.Fatalf("put error: %v", err)
			}

			body, err := store.Get(context.Background(), "sample")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if string(body) != string(payload) {
				t.Fatalf("cached payload mismatch: %s", string(body))
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreClearIsIdempotent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, "a", []byte("1")); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Put(ctx, "b", []byte("2")); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear error: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("second clear error: %v", err)
			}
			for _, key := range []string{"a", "b"} {
				if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected %s to be cleared, got %v", key, err)
				}
			}
		})
	}
}

func TestStoreReturnsIndependentCopies(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte("abc")
			if err := store.Put(ctx, "copy", payload); err != nil {
				t.Fatalf("put error: %v", err)
			}
			payload[0] = 'x'

			first, err := store.Get(ctx, "copy")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			first[1] = 'y'

			second, err := store.Get(ctx, "copy")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if string(second) != "abc" {
				t.Fatalf("stored bytes were mutated: %s", string(second))
			}
		})
	}
}

func TestStoreEmptyPayloadIsAHit(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, "empty", nil); err != nil {
				t.Fatalf("put error: %v", err)
			}
			data, err := store.Get(ctx, "empty")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if data == nil || len(data) != 0 {
				t.Fatalf("expected empty non-nil payload, got %#v", data)
			}
		})
	}
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Put(context.Background(), "durable", []byte("kept")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	reopened, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	data, err := reopened.Get(context.Background(), "durable")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(data) != "kept" {
		t.Fatalf("unexpected payload after reopen: %s", string(data))
	}
}

func TestDiskStoreIgnoresDirectories(t *testing.T) {
	store := newTestDiskStore(t)

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath("nested")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), "nested"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestDiskStoreRejectsTraversal(t *testing.T) {
	store := newTestDiskStore(t)
	for _, key := range []string{"", "..", "../escape", "a/b"} {
		if err := store.Put(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestDiskStoreCancelledPutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Put(ctx, "interrupted", []byte("partial_data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "interrupted")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final file, got err=%v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".cache-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
}

func TestDiskStoreConcurrentReaders(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()
	if err := store.Put(ctx, "shared", []byte("shared-body")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := store.Get(ctx, "shared")
			if err != nil {
				errs <- err
				return
			}
			if string(data) != "shared-body" {
				errs <- errors.New("unexpected payload: " + string(data))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestParseTier(t *testing.T) {
	testCases := []struct {
		raw       string
		want      Tier
		shouldErr bool
	}{
		{"none", TierNone, false},
		{"Memory", TierMemory, false},
		{" disk ", TierDisk, false},
		{"", TierNone, true},
		{"redis", TierNone, true},
	}
	for _, tc := range testCases {
		got, err := ParseTier(tc.raw)
		if tc.shouldErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTier(%q) = %s, want %s", tc.raw, got, tc.want)
		}
		if got.String() != tc.want.String() {
			t.Fatalf("round trip mismatch for %q", tc.raw)
		}
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   newTestDiskStore(t),
	}
}

// newTestDiskStore returns a Store backed by a temporary directory.
func newTestDiskStore(t *testing.T) Store {
	t.Helper()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
