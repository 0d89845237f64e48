package store

import (
	"path/filepath"
	"testing"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := openTestStore(t)

	in := testRecord{Name: "thread_abc", Count: 3}
	if err := s.Put("threads", "conv-1", in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out testRecord
	ok, err := s.Get("threads", "conv-1", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false for existing key")
	}
	if out != in {
		t.Errorf("Get = %+v, want %+v", out, in)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)

	var out testRecord
	ok, err := s.Get("threads", "nope", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing key")
	}
}

func TestStoreOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("threads", "conv-1", testRecord{Name: "old"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("threads", "conv-1", testRecord{Name: "new"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out testRecord
	if _, err := s.Get("threads", "conv-1", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Name != "new" {
		t.Errorf("Name = %q, want %q", out.Name, "new")
	}
}

func TestStoreListAndDelete(t *testing.T) {
	s := openTestStore(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put("transcripts", key, testRecord{Name: key}); err != nil {
			t.Fatalf("Put %q: %v", key, err)
		}
	}
	// A record in another bucket must not leak into the listing.
	if err := s.Put("threads", "x", testRecord{Name: "x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	items, err := s.List("transcripts")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List returned %d items, want 3", len(items))
	}

	if err := s.Delete("transcripts", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	n, err := s.Count("transcripts")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
