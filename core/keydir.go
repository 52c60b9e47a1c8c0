package core

import (
	"bytes"
	"errors"
	"math"
)

const (
	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211

	// LoadFactorThreshold is the entries-per-bucket ratio the KeyDir keeps
	// itself under while it is allowed to grow.
	LoadFactorThreshold = 0.70
)

// ErrKeyDirFull is returned when the entry count of a KeyDir would overflow.
var ErrKeyDirFull = errors.New("keydir: entry count overflow")

// KeyDirEntry represents the in-memory index entry for a single key.
//
// Each entry points to the latest known version of a key stored on disk.
// Older versions may still exist in immutable segments but are
// unreachable once the entry is overwritten.
type KeyDirEntry struct {
	Key       []byte // Private copy owned by the KeyDir
	SegmentID uint32 // Segment containing the record
	ValueSize uint32 // Size of the value in bytes
	Offset    uint64 // Byte offset in the segment where the record starts
	Timestamp int64  // Timestamp of the record
}

// RecordSize returns the number of bytes the entry's record occupies on disk.
func (e KeyDirEntry) RecordSize() uint64 {
	return uint64(recordHeaderSize) + uint64(len(e.Key)) + uint64(e.ValueSize)
}

// bucket is the collision chain for one hash slot.
type bucket []KeyDirEntry

// KeyDir is the in-memory index mapping keys to their latest on-disk
// entries: a hash table using FNV-1a, separate chaining and doubling
// resizes up to a fixed maximum bucket count.
//
// KeyDir is not safe for concurrent use; the engine serializes access.
type KeyDir struct {
	buckets    []bucket
	count      int
	maxBuckets int
	resizes    int
}

// NewKeyDir returns an empty KeyDir with initial buckets that may grow to
// maxBuckets. Non-positive values are raised to 1, and maxBuckets is never
// below initial.
func NewKeyDir(initial, maxBuckets int) *KeyDir {
	if initial < 1 {
		initial = 1
	}
	if maxBuckets < initial {
		maxBuckets = initial
	}

	return &KeyDir{
		buckets:    make([]bucket, initial),
		maxBuckets: maxBuckets,
	}
}

// hashKey is 64-bit FNV-1a. An empty key hashes to the offset basis.
func hashKey(key []byte) uint64 {
	h := fnvOffsetBasis
	for _, b := range key {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

func (kd *KeyDir) index(key []byte, n int) int {
	return int(hashKey(key) % uint64(n))
}

// Insert points key at e, replacing any existing entry for key. The
// KeyDir stores its own copy of key; e.Key is ignored.
//
// A brand-new key may first trigger a resize when adding it would push
// the load factor over LoadFactorThreshold.
func (kd *KeyDir) Insert(key []byte, e KeyDirEntry) error {
	i := kd.index(key, len(kd.buckets))
	chain := kd.buckets[i]

	for j := range chain {
		if bytes.Equal(chain[j].Key, key) {
			e.Key = chain[j].Key
			chain[j] = e
			return nil
		}
	}

	if kd.count == math.MaxInt {
		return ErrKeyDirFull
	}

	if kd.shouldGrow() {
		kd.resize()
		i = kd.index(key, len(kd.buckets))
	}

	e.Key = bytes.Clone(key)
	if e.Key == nil {
		e.Key = []byte{}
	}
	kd.buckets[i] = append(kd.buckets[i], e)
	kd.count++

	return nil
}

func (kd *KeyDir) shouldGrow() bool {
	if len(kd.buckets) >= kd.maxBuckets {
		return false
	}
	return float64(kd.count+1) > LoadFactorThreshold*float64(len(kd.buckets))
}

// Get returns the entry for key. The whole chain is walked and the last
// match wins, although Insert never leaves more than one.
func (kd *KeyDir) Get(key []byte) (KeyDirEntry, bool) {
	var (
		match KeyDirEntry
		found bool
	)

	for _, e := range kd.buckets[kd.index(key, len(kd.buckets))] {
		if bytes.Equal(e.Key, key) {
			match = e
			found = true
		}
	}

	return match, found
}

// resize doubles the bucket count, capped at maxBuckets, and rehashes every
// entry into the new table. Chain order is not preserved.
func (kd *KeyDir) resize() {
	n := len(kd.buckets) * 2
	if n > kd.maxBuckets || n < len(kd.buckets) {
		n = kd.maxBuckets
	}

	buckets := make([]bucket, n)
	for _, chain := range kd.buckets {
		for _, e := range chain {
			i := kd.index(e.Key, n)
			buckets[i] = append(buckets[i], e)
		}
	}

	kd.buckets = buckets
	kd.resizes++
}

// Len returns the number of keys in the KeyDir.
func (kd *KeyDir) Len() int {
	return kd.count
}

// BucketCount returns the current number of buckets.
func (kd *KeyDir) BucketCount() int {
	return len(kd.buckets)
}

// Resizes returns how many times the table has grown.
func (kd *KeyDir) Resizes() int {
	return kd.resizes
}
