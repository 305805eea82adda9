package shellhist

import (
	"encoding/base64"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"
)

// idNonceBits is the width of the nonce packed into the low bits of an ItemID.
const idNonceBits = 16

// idNonceMask isolates the nonce portion of a raw ItemID value.
const idNonceMask = 1<<idNonceBits - 1

// ItemID identifies one HistoryItem. It packs a millisecond UNIX timestamp
// into the high bits and a per-millisecond nonce into the low 16 bits, so
// ids sort chronologically across cooperating processes while still being
// distinguishable within the same millisecond.
type ItemID uint64

// NewItemID packs a timestamp and nonce into an ItemID. The timestamp is
// truncated to millisecond resolution; any bits of nonce beyond idNonceBits
// are discarded.
func NewItemID(ts time.Time, nonce uint16) ItemID {
	ms := uint64(ts.UnixMilli())
	return ItemID(ms<<idNonceBits | uint64(nonce))
}

// Timestamp returns the millisecond-resolution creation time encoded in id.
func (id ItemID) Timestamp() time.Time {
	ms := int64(uint64(id) >> idNonceBits)
	return time.UnixMilli(ms)
}

// Nonce returns the low-order nonce bits of id.
func (id ItemID) Nonce() uint16 {
	return uint16(uint64(id) & idNonceMask)
}

// Raw returns the lossless uint64 encoding of id.
func (id ItemID) Raw() uint64 { return uint64(id) }

// ItemIDFromRaw reconstructs an ItemID from its lossless uint64 encoding.
func ItemIDFromRaw(v uint64) ItemID { return ItemID(v) }

// IsZero reports whether id is the zero value (never assigned).
func (id ItemID) IsZero() bool { return id == 0 }

// EncodeU64Base64 encodes v as 8 big-endian bytes, URL-safe base64 without
// padding: 11 characters. Used for both the id and sid record fields.
func EncodeU64Base64(v uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// DecodeU64Base64 is the inverse of EncodeU64Base64. It reports false for
// any string that is not exactly 11 valid URL-safe-no-padding characters
// decoding to 8 bytes.
func DecodeU64Base64(s string) (uint64, bool) {
	if len(s) != 11 {
		return 0, false
	}
	var buf [8]byte
	n, err := base64.RawURLEncoding.Decode(buf[:], []byte(s))
	if err != nil || n != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[:]), true
}

// EncodeItemID renders id in the on-disk string form used by the "id" key.
func EncodeItemID(id ItemID) string { return EncodeU64Base64(uint64(id)) }

// DecodeItemID parses the on-disk string form of an id field.
func DecodeItemID(s string) (ItemID, bool) {
	v, ok := DecodeU64Base64(s)
	return ItemID(v), ok
}

// idAllocator hands out fresh ItemIDs for one process (or one shard of a
// process, for tests that want disjoint nonce ranges per writer). Two ids
// minted by the same allocator in the same millisecond always differ: the
// nonce increments. Overflow of the nonce within a millisecond is ignored,
// per spec — callers are expected to bound same-millisecond insertion rates.
type idAllocator struct {
	mu         sync.Mutex
	lastMillis int64
	nonce      uint32
	shardLo    uint16
	shardHi    uint16
}

// newIDAllocator returns an allocator whose initial nonce is randomized,
// so that two independent processes minting ids in the same millisecond are
// very unlikely to collide.
func newIDAllocator() *idAllocator {
	return newPartitionedIDAllocator(0, 1)
}

// newPartitionedIDAllocator returns an allocator restricted to the nonce
// partition [shardIndex*65536/shardCount, (shardIndex+1)*65536/shardCount).
// This lets concurrent test writers guarantee disjoint id spaces instead of
// relying on statistical luck.
func newPartitionedIDAllocator(shardIndex, shardCount int) *idAllocator {
	if shardCount < 1 {
		shardCount = 1
	}
	if shardIndex < 0 || shardIndex >= shardCount {
		shardIndex = 0
	}
	span := 65536 / shardCount
	lo := uint16(shardIndex * span)
	hi := uint16(lo) + uint16(span) - 1
	if shardIndex == shardCount-1 {
		hi = 0xffff
	}
	a := &idAllocator{shardLo: lo, shardHi: hi}
	a.nonce = uint32(lo) + uint32(rand.IntN(int(hi-lo)+1))
	return a
}

// next mints the ItemID for "now". Safe for concurrent use.
func (a *idAllocator) next(now time.Time) ItemID {
	a.mu.Lock()
	defer a.mu.Unlock()

	ms := now.UnixMilli()
	if ms != a.lastMillis {
		a.lastMillis = ms
		a.nonce = uint32(a.shardLo) + uint32(rand.IntN(int(a.shardHi-a.shardLo)+1))
	} else {
		a.nonce++
		if a.nonce > uint32(a.shardHi) {
			a.nonce = uint32(a.shardLo) + (a.nonce - uint32(a.shardHi) - 1)
		}
	}
	return NewItemID(time.UnixMilli(ms), uint16(a.nonce))
}
