package shellhist

import (
	"testing"
	"time"
)

func TestItemIDRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	id := NewItemID(ts, 42)

	if got := id.Nonce(); got != 42 {
		t.Fatalf("Nonce() = %d, want 42", got)
	}
	if got := id.Timestamp().UnixMilli(); got != ts.UnixMilli() {
		t.Fatalf("Timestamp().UnixMilli() = %d, want %d", got, ts.UnixMilli())
	}
	if id.IsZero() {
		t.Fatalf("IsZero() = true for a constructed id")
	}
}

func TestEncodeDecodeItemID(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		n    uint16
	}{
		{"zero nonce", time.UnixMilli(0), 0},
		{"max nonce", time.UnixMilli(1_600_000_000_000), 0xffff},
		{"typical", time.UnixMilli(1_700_000_000_123), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewItemID(tt.ts, tt.n)
			s := EncodeItemID(id)
			if len(s) != 11 {
				t.Fatalf("encoded length = %d, want 11", len(s))
			}
			got, ok := DecodeItemID(s)
			if !ok {
				t.Fatalf("DecodeItemID(%q) failed", s)
			}
			if got != id {
				t.Fatalf("DecodeItemID(%q) = %v, want %v", s, got, id)
			}
		})
	}
}

func TestDecodeItemIDRejectsMalformed(t *testing.T) {
	tests := []string{"", "short", "this-is-too-long-to-be-valid", "!!!!!!!!!!!"}
	for _, s := range tests {
		if _, ok := DecodeItemID(s); ok {
			t.Fatalf("DecodeItemID(%q) unexpectedly succeeded", s)
		}
	}
}

func TestIDAllocatorMonotonicWithinMillisecond(t *testing.T) {
	a := newIDAllocator()
	now := time.UnixMilli(1_700_000_000_000)

	first := a.next(now)
	second := a.next(now)
	if second.Raw() <= first.Raw() {
		t.Fatalf("expected strictly increasing ids within one millisecond, got %d then %d", first.Raw(), second.Raw())
	}
}

func TestIDAllocatorAdvancesAcrossMilliseconds(t *testing.T) {
	a := newIDAllocator()
	t1 := time.UnixMilli(1_700_000_000_000)
	t2 := time.UnixMilli(1_700_000_000_001)

	first := a.next(t1)
	second := a.next(t2)
	if second.Timestamp().UnixMilli() != t2.UnixMilli() {
		t.Fatalf("second id timestamp = %d, want %d", second.Timestamp().UnixMilli(), t2.UnixMilli())
	}
	if second.Raw() <= first.Raw() {
		t.Fatalf("ids must increase across milliseconds too")
	}
}

func TestPartitionedIDAllocatorsStayWithinDisjointRanges(t *testing.T) {
	const shardCount = 4
	now := time.UnixMilli(1_700_000_000_000)

	ranges := make([][2]uint16, shardCount)
	for i := 0; i < shardCount; i++ {
		a := newPartitionedIDAllocator(i, shardCount)
		lo, hi := a.shardLo, a.shardHi
		ranges[i] = [2]uint16{lo, hi}

		for n := 0; n < 50; n++ {
			id := a.next(now)
			if id.Nonce() < lo || id.Nonce() > hi {
				t.Fatalf("shard %d produced nonce %d outside [%d,%d]", i, id.Nonce(), lo, hi)
			}
		}
	}

	for i := 0; i < shardCount; i++ {
		for j := i + 1; j < shardCount; j++ {
			if ranges[i][0] <= ranges[j][1] && ranges[j][0] <= ranges[i][1] {
				t.Fatalf("shard ranges overlap: shard %d %v vs shard %d %v", i, ranges[i], j, ranges[j])
			}
		}
	}
}
