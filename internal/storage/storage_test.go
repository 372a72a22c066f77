package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStorage opens a store in a temp dir closed at cleanup.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("chunk:1")
	value := []byte("payload")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	if ok, err := s.Has(key); err != nil || !ok {
		t.Errorf("Has = (%v, %v), want true", ok, err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err = s.Get(key)
	if err != nil || got != nil {
		t.Errorf("Get after Delete = (%q, %v), want nil", got, err)
	}

	if ok, _ := s.Has(key); ok {
		t.Error("Has after Delete returned true")
	}
}

func TestApplyMixesSetsAndDeletes(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("old"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err := s.Apply([]Mutation{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("old")},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for key, want := range map[string][]byte{"a": []byte("1"), "b": []byte("2"), "old": nil} {
		got, err := s.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", key, err)
		}

		if !bytes.Equal(got, want) {
			t.Errorf("Get(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestBucketsAreIsolated(t *testing.T) {
	s := newTestStorage(t)
	chunks := s.Bucket("chunk:")
	trees := s.Bucket("sdv:")

	for i := 0; i < 3; i++ {
		key := []byte(fmt.Sprintf("k%d", i))

		if err := chunks.Set(key, []byte("c")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if err := trees.Set(key, []byte("t")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	var keys []string
	err := chunks.Iterate(func(key, value []byte) error {
		if !bytes.Equal(value, []byte("c")) {
			t.Errorf("value of %q = %q, want c", key, value)
		}

		keys = append(keys, string(key))

		return nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(keys) != 3 || keys[0] != "k0" || keys[2] != "k2" {
		t.Errorf("keys = %v, want [k0 k1 k2]", keys)
	}

	if err := chunks.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if got, _ := chunks.Get([]byte("k1")); got != nil {
		t.Errorf("cleared bucket still holds %q", got)
	}

	if got, _ := trees.Get([]byte("k1")); !bytes.Equal(got, []byte("t")) {
		t.Errorf("other bucket lost its value: %q", got)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Set([]byte("acc:owner"), []byte("state")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.Get([]byte("acc:owner"))
	if err != nil || !bytes.Equal(got, []byte("state")) {
		t.Errorf("Get after reopen = (%q, %v), want state", got, err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}

	for _, tt := range tests {
		if got := prefixUpperBound(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}
