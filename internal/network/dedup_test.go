package network

import (
	"testing"
	"time"
)

func TestDedupDropsRepeats(t *testing.T) {
	d := NewDedup()
	defer d.Close()

	if !d.Check([]byte("frame")) {
		t.Fatal("first frame reported as duplicate")
	}

	if d.Check([]byte("frame")) {
		t.Error("repeated frame not dropped")
	}

	if !d.Check([]byte("other")) {
		t.Error("distinct frame dropped")
	}

	if d.Len() != 2 {
		t.Errorf("len = %d, want 2", d.Len())
	}
}

func TestDedupExpires(t *testing.T) {
	d := NewDedupTTL(time.Minute)
	defer d.Close()

	d.Check([]byte("frame"))
	d.sweep(time.Now().Add(2 * time.Minute))

	if d.Len() != 0 {
		t.Fatalf("len = %d after sweep, want 0", d.Len())
	}

	if !d.Check([]byte("frame")) {
		t.Error("expired frame still dropped")
	}
}

func BenchmarkDedupCheck(b *testing.B) {
	d := NewDedup()
	defer d.Close()

	frame := make([]byte, 256)

	for i := 0; b.Loop(); i++ {
		frame[0], frame[1], frame[2] = byte(i), byte(i>>8), byte(i>>16)
		d.Check(frame)
	}
}
