package core

import (
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/lock"
	"github.com/0xRadioAc7iv/keycask/internal/record"
	"github.com/0xRadioAc7iv/keycask/internal/segment"
)

var (
	// ErrNotFound is returned by Get for a key that was never set.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by operations on a closed Bitcask.
	ErrClosed = errors.New("bitcask is closed")
)

// Options configures a Bitcask instance. Zero values fall back to the
// package defaults.
type Options struct {
	Dir            string
	KeyDirSize     int
	KeyDirMaxSize  int
	MaxSegmentSize uint64
	Logger         *slog.Logger
}

// GetResult is a value read back from disk. ChecksumOK is false when the
// stored record no longer matches its checksum; Value then still holds
// the bytes found at the expected position and length.
type GetResult struct {
	Value      []byte
	ChecksumOK bool
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Keys          int
	Buckets       int
	KeyDirResizes int
	Segments      int
	ActiveSegment uint32
}

// Bitcask is a single-writer key/value store: values live in append-only
// segment files and an in-memory KeyDir points at the latest record of
// each key.
//
// All methods are safe for concurrent use; every operation runs to
// completion under one mutex.
type Bitcask struct {
	mu sync.Mutex

	dir     string
	dirLock *lock.Lock
	log     *segment.Log
	keyDir  *KeyDir
	logger  *slog.Logger
	metrics *expvar.Map
	closed  bool
}

// Open creates opts.Dir if needed, takes the directory lock, rebuilds the
// KeyDir from the existing segments and opens a fresh active segment.
//
// The lock is attempted once. A lock file left behind by a crashed
// process must be removed by hand.
func Open(opts Options) (*Bitcask, error) {
	if opts.Dir == "" {
		opts.Dir = internal.DefaultDataDir
	}
	if opts.KeyDirSize <= 0 {
		opts.KeyDirSize = internal.DefaultKeyDirSize
	}
	if opts.KeyDirMaxSize <= 0 {
		opts.KeyDirMaxSize = internal.DefaultKeyDirMaxSize
	}
	if opts.MaxSegmentSize == 0 {
		opts.MaxSegmentSize = internal.DefaultMaxSegmentSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	bk := &Bitcask{
		dir:     opts.Dir,
		keyDir:  NewKeyDir(opts.KeyDirSize, opts.KeyDirMaxSize),
		logger:  opts.Logger.With("component", "bitcask"),
		metrics: new(expvar.Map).Init(),
	}

	// 0 (special bit - ignored), 7 (rwx - owner), 5 (r-x - user group), 5 (r-x - others)
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", opts.Dir, err)
	}

	dirLock, err := lock.LockDirectory(opts.Dir)
	if err != nil {
		return nil, err
	}
	bk.dirLock = dirLock

	log, err := segment.Open(segment.Options{
		Dir:            opts.Dir,
		MaxSegmentSize: opts.MaxSegmentSize,
		LockFileName:   lock.FileName,
		Logger:         opts.Logger,
		OnRotate:       func(uint32) { bk.metrics.Add(MetricRotations, 1) },
	})
	if err != nil {
		dirLock.Unlock()
		return nil, err
	}
	bk.log = log

	if err := bk.recover(); err != nil {
		bk.abort()
		return nil, err
	}

	if err := log.Activate(); err != nil {
		bk.abort()
		return nil, fmt.Errorf("open active segment: %w", err)
	}

	active, _ := log.ActiveID()
	bk.logger.Info("Bitcask opened", "dir", opts.Dir, "keys", bk.keyDir.Len(), "segments", len(log.SegmentIDs()), "active", active)

	return bk, nil
}

// recover replays every segment into the KeyDir. Records are applied in
// log order, so the last record of a key wins. A record with a bad
// checksum is indexed like any other; Get reports it.
func (bk *Bitcask) recover() error {
	var recovered int64

	err := bk.log.Replay(func(loc segment.Location, rec *record.Record) error {
		resizes := bk.keyDir.Resizes()
		err := bk.keyDir.Insert(rec.Key, KeyDirEntry{
			SegmentID: loc.SegmentID,
			ValueSize: rec.ValueSize,
			Offset:    loc.Offset,
			Timestamp: rec.Timestamp,
		})
		if err != nil {
			return err
		}
		bk.metrics.Add(MetricKeyDirResizes, int64(bk.keyDir.Resizes()-resizes))
		if !record.Verify(rec) {
			bk.metrics.Add(MetricChecksumFailures, 1)
		}
		recovered++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay segments: %w", err)
	}

	bk.metrics.Add(MetricRecoveredRecords, recovered)
	bk.logger.Debug("Recovered records", "records", recovered, "keys", bk.keyDir.Len())
	return nil
}

func (bk *Bitcask) abort() {
	if err := bk.log.Close(); err != nil {
		bk.logger.Warn("Failed to close segments", "error", err)
	}
	if err := bk.dirLock.Unlock(); err != nil {
		bk.logger.Warn("Failed to release directory lock", "error", err)
	}
}

// Set appends a record for key and points the KeyDir at it. The KeyDir is
// only updated once the append has fully succeeded.
func (bk *Bitcask) Set(key, value []byte) error {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	if bk.closed {
		return ErrClosed
	}

	if err := bk.set(key, value); err != nil {
		bk.metrics.Add(MetricSetFailures, 1)
		bk.logger.Warn("SET failed", "key_size", len(key), "value_size", len(value), "error", err)
		return err
	}

	bk.metrics.Add(MetricSets, 1)
	return nil
}

func (bk *Bitcask) set(key, value []byte) error {
	rec, err := record.New(key, value)
	if err != nil {
		return err
	}

	loc, err := bk.log.Append(record.Encode(rec))
	if err != nil {
		return err
	}

	resizes := bk.keyDir.Resizes()
	err = bk.keyDir.Insert(key, KeyDirEntry{
		SegmentID: loc.SegmentID,
		ValueSize: rec.ValueSize,
		Offset:    loc.Offset,
		Timestamp: rec.Timestamp,
	})
	if err != nil {
		return err
	}

	if n := bk.keyDir.Resizes() - resizes; n > 0 {
		bk.metrics.Add(MetricKeyDirResizes, int64(n))
		bk.logger.Debug("KeyDir resized", "buckets", bk.keyDir.BucketCount(), "keys", bk.keyDir.Len())
	}
	return nil
}

// Get returns the latest value stored for key, or ErrNotFound. Read errors
// are returned wrapped and are distinct from ErrNotFound.
//
// A record that fails its checksum is not an error: the result carries
// ChecksumOK == false.
func (bk *Bitcask) Get(key []byte) (GetResult, error) {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	if bk.closed {
		return GetResult{}, ErrClosed
	}

	e, ok := bk.keyDir.Get(key)
	if !ok {
		bk.metrics.Add(MetricGetMisses, 1)
		return GetResult{}, ErrNotFound
	}

	buf, err := bk.log.Read(e.SegmentID, e.Offset, e.RecordSize())
	if err != nil {
		bk.logger.Error("GET read failed", "segment", e.SegmentID, "offset", e.Offset, "error", err)
		return GetResult{}, fmt.Errorf("read value: %w", err)
	}

	checksumOK := record.VerifyBytes(buf)
	if h, err := record.DecodeHeader(buf); err != nil || h.KeySize != uint32(len(e.Key)) || h.ValueSize != e.ValueSize {
		checksumOK = false
	}
	if !checksumOK {
		bk.metrics.Add(MetricChecksumFailures, 1)
		bk.logger.Warn("Checksum mismatch", "segment", e.SegmentID, "offset", e.Offset)
	}

	bk.metrics.Add(MetricGets, 1)
	return GetResult{
		Value:      buf[recordHeaderSize+len(e.Key):],
		ChecksumOK: checksumOK,
	}, nil
}

// Sync flushes the active segment to stable storage.
func (bk *Bitcask) Sync() error {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	if bk.closed {
		return ErrClosed
	}
	return bk.log.Sync()
}

// Len returns the number of distinct keys.
func (bk *Bitcask) Len() int {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	return bk.keyDir.Len()
}

// Stats returns a snapshot of the store's shape.
func (bk *Bitcask) Stats() Stats {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	active, _ := bk.log.ActiveID()
	return Stats{
		Keys:          bk.keyDir.Len(),
		Buckets:       bk.keyDir.BucketCount(),
		KeyDirResizes: bk.keyDir.Resizes(),
		Segments:      len(bk.log.SegmentIDs()),
		ActiveSegment: active,
	}
}

// Metrics returns the instance's counters. The map is not published;
// callers may hand it to expvar.Publish.
func (bk *Bitcask) Metrics() *expvar.Map {
	return bk.metrics
}

// Dir returns the data directory.
func (bk *Bitcask) Dir() string {
	return bk.dir
}

// Close syncs and closes every segment and releases the directory lock.
// Calling Close more than once is a no-op.
func (bk *Bitcask) Close() error {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	if bk.closed {
		return nil
	}
	bk.closed = true

	err := errors.Join(bk.log.Close(), bk.dirLock.Unlock())
	if err != nil {
		bk.logger.Error("Error while closing bitcask", "error", err)
		return err
	}

	bk.logger.Info("Bitcask closed", "dir", bk.dir)
	return nil
}
