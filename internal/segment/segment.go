package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/record"
)

// DataFileExt is the extension of every segment file.
const DataFileExt = ".data"

var (
	// ErrReadFailure is returned when a positioned read cannot return
	// exactly the requested bytes.
	ErrReadFailure = errors.New("segment: read failure")
	// ErrShortWrite is returned when an append wrote fewer bytes than requested.
	ErrShortWrite = errors.New("segment: short write")
	// ErrTooManySegments is returned when the segment id space is exhausted.
	ErrTooManySegments = errors.New("segment: too many segments")
	// ErrClosed is returned by operations on a closed Log.
	ErrClosed = errors.New("segment: log is closed")
	// ErrNotActive is returned by Append before Activate has been called.
	ErrNotActive = errors.New("segment: no active segment")
)

// Location addresses one record inside the log.
type Location struct {
	SegmentID uint32
	Offset    uint64
}

// Options configures a Log.
type Options struct {
	Dir            string
	MaxSegmentSize uint64
	// LockFileName is skipped silently when enumerating the directory.
	LockFileName string
	Logger       *slog.Logger
	// OnRotate, if set, is called after a new active segment is opened by Append.
	OnRotate func(id uint32)
}

// active is the one segment currently accepting appends.
type active struct {
	id           uint32
	file         *os.File
	bytesWritten uint64
}

// Log is an ordered set of bounded, append-only segment files.
//
// Log is not safe for concurrent use.
type Log struct {
	dir     string
	base    string
	maxSize uint64
	opts    Options
	logger  *slog.Logger

	ids     []uint32 // existing segment ids, ascending
	active  *active
	readers map[uint32]*os.File
	closed  bool
}

// Open scans opts.Dir for segment files. The directory must exist. No
// segment is writable until Activate is called; call Replay first to
// rebuild state from the existing segments.
func Open(opts Options) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxSegmentSize == 0 {
		opts.MaxSegmentSize = internal.DefaultMaxSegmentSize
	}

	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve segment directory %s: %w", opts.Dir, err)
	}

	l := &Log{
		dir:     opts.Dir,
		base:    filepath.Base(abs),
		maxSize: opts.MaxSegmentSize,
		opts:    opts,
		logger:  opts.Logger.With("component", "segment"),
		readers: make(map[uint32]*os.File),
	}

	if err := l.loadSegments(); err != nil {
		return nil, err
	}

	return l, nil
}

// FileName returns the file name of segment id for a directory with the
// given base name.
func FileName(base string, id uint32) string {
	return fmt.Sprintf("%s_%d%s", base, id, DataFileExt)
}

// ParseFileName extracts the segment id from a file name produced by
// FileName for the same base.
func ParseFileName(base, name string) (uint32, error) {
	prefix := base + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, DataFileExt) {
		return 0, fmt.Errorf("not a segment file: %s", name)
	}

	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), DataFileExt)
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("not a segment file: %s", name)
	}

	id, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid segment id in %s: %w", name, err)
	}

	return uint32(id), nil
}

func (l *Log) path(id uint32) string {
	return filepath.Join(l.dir, FileName(l.base, id))
}

// loadSegments collects the ids of existing segment files and sorts them
// numerically, so replay order never depends on directory order.
func (l *Log) loadSegments() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read segment directory %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == l.opts.LockFileName {
			continue
		}

		id, err := ParseFileName(l.base, entry.Name())
		if err != nil {
			l.logger.Warn("Ignoring unrecognised file in data directory", "file", entry.Name())
			continue
		}
		l.ids = append(l.ids, id)
	}

	slices.Sort(l.ids)
	return nil
}

// SegmentIDs returns the ids of all known segments in ascending order,
// including the active one.
func (l *Log) SegmentIDs() []uint32 {
	return slices.Clone(l.ids)
}

// ActiveID returns the id of the active segment and whether one is open.
func (l *Log) ActiveID() (uint32, bool) {
	if l.active == nil {
		return 0, false
	}
	return l.active.id, true
}

// Activate opens a new active segment with the id after the highest
// existing one.
func (l *Log) Activate() error {
	if l.closed {
		return ErrClosed
	}

	var next uint32
	if len(l.ids) > 0 {
		last := l.ids[len(l.ids)-1]
		if last == math.MaxUint32 {
			return ErrTooManySegments
		}
		next = last + 1
	}

	return l.openActive(next)
}

func (l *Log) openActive(id uint32) error {
	f, err := l.create(id)
	if err != nil {
		return err
	}

	l.active = &active{id: id, file: f}
	l.ids = append(l.ids, id)

	l.logger.Info("Opened new active segment", "id", id, "path", f.Name())
	return nil
}

func (l *Log) create(id uint32) (*os.File, error) {
	f, err := os.OpenFile(l.path(id), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", id, err)
	}
	return f, nil
}

// rotate seals the active segment and opens the next one. The new file is
// created before the old one is closed, so a failed rotation leaves the
// current segment active. A completed rotation is never undone, even if
// the append that caused it later fails.
func (l *Log) rotate() error {
	old := l.active
	if old.id == math.MaxUint32 {
		return ErrTooManySegments
	}

	if err := old.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d on rotation: %w", old.id, err)
	}

	next := old.id + 1
	f, err := l.create(next)
	if err != nil {
		return err
	}

	if err := old.file.Close(); err != nil {
		l.logger.Warn("Failed to close sealed segment", "id", old.id, "error", err)
	}

	l.active = &active{id: next, file: f}
	l.ids = append(l.ids, next)
	l.logger.Info("Rotated active segment", "sealed", old.id, "active", next)

	if l.opts.OnRotate != nil {
		l.opts.OnRotate(next)
	}
	return nil
}

// Append writes data at the end of the active segment, rotating first if
// the write would take the segment past the maximum size. A record larger
// than the maximum is written whole into a fresh segment.
//
// The returned location is the position before the write. On a short
// write the cursor is not advanced, so the next append overwrites the
// partial bytes.
func (l *Log) Append(data []byte) (Location, error) {
	if l.closed {
		return Location{}, ErrClosed
	}
	if l.active == nil {
		return Location{}, ErrNotActive
	}

	size := uint64(len(data))
	end := l.active.bytesWritten + size
	if l.active.bytesWritten > 0 && (end > l.maxSize || end < l.active.bytesWritten) {
		if err := l.rotate(); err != nil {
			return Location{}, err
		}
	}

	a := l.active
	n, err := a.file.WriteAt(data, int64(a.bytesWritten))
	if err != nil {
		return Location{}, fmt.Errorf("append to segment %d: %w", a.id, err)
	}
	if n != len(data) {
		return Location{}, fmt.Errorf("%w: wrote %d of %d bytes to segment %d", ErrShortWrite, n, len(data), a.id)
	}

	loc := Location{SegmentID: a.id, Offset: a.bytesWritten}
	a.bytesWritten += size

	return loc, nil
}

// Read returns exactly n bytes of segment id starting at off.
func (l *Log) Read(id uint32, off uint64, n uint64) ([]byte, error) {
	if l.closed {
		return nil, ErrClosed
	}

	f, err := l.reader(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	if off > math.MaxInt64 || n > math.MaxInt {
		return nil, fmt.Errorf("%w: range %d+%d out of bounds", ErrReadFailure, off, n)
	}

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(off))
	if read != len(buf) {
		return nil, fmt.Errorf("%w: segment %d offset %d: read %d of %d bytes: %v", ErrReadFailure, id, off, read, n, err)
	}

	return buf, nil
}

// reader returns a handle for reading segment id, opening it read-only on
// first use. The active segment is read through its write handle.
func (l *Log) reader(id uint32) (*os.File, error) {
	if l.active != nil && l.active.id == id {
		return l.active.file, nil
	}
	if f, ok := l.readers[id]; ok {
		return f, nil
	}

	if _, found := slices.BinarySearch(l.ids, id); !found {
		return nil, fmt.Errorf("unknown segment %d", id)
	}

	f, err := os.Open(l.path(id))
	if err != nil {
		return nil, err
	}

	l.readers[id] = f
	return f, nil
}

// ReplayFunc receives each record recovered from the log together with
// its location. Key and Value are only valid for the duration of the call.
type ReplayFunc func(loc Location, rec *record.Record) error

// Replay reads every existing segment in id order and calls fn for each
// record whose lengths fit the file. A record with a bad checksum is still
// passed to fn; use record.Verify to tell. A truncated or undecodable
// record ends replay of its segment, and later segments are still
// replayed. An error from fn aborts Replay.
func (l *Log) Replay(fn ReplayFunc) error {
	if l.closed {
		return ErrClosed
	}

	for _, id := range l.ids {
		if l.active != nil && l.active.id == id {
			continue
		}
		if err := l.replaySegment(id, fn); err != nil {
			return err
		}
	}

	return nil
}

func (l *Log) replaySegment(id uint32, fn ReplayFunc) error {
	f, err := os.Open(l.path(id))
	if err != nil {
		return fmt.Errorf("open segment %d for replay: %w", id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat segment %d for replay: %w", id, err)
	}
	fileSize := uint64(info.Size())

	r := bufio.NewReader(f)
	header := make([]byte, record.HeaderSize)
	var (
		offset uint64
		count  int
	)

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err != io.EOF {
				l.logger.Warn("Segment ends with a partial header", "segment", id, "offset", offset, "error", err)
			}
			break
		}

		h, err := record.DecodeHeader(header)
		if err != nil {
			l.logger.Warn("Undecodable record header, skipping rest of segment", "segment", id, "offset", offset, "error", err)
			break
		}

		size := uint64(record.HeaderSize) + uint64(h.KeySize) + uint64(h.ValueSize)
		if offset+size > fileSize {
			l.logger.Warn("Record runs past end of segment, skipping rest of segment", "segment", id, "offset", offset, "size", size)
			break
		}

		buf := make([]byte, size)
		copy(buf, header)
		if _, err := io.ReadFull(r, buf[record.HeaderSize:]); err != nil {
			l.logger.Warn("Truncated record, skipping rest of segment", "segment", id, "offset", offset, "error", err)
			break
		}

		rec, err := record.Decode(buf)
		if err != nil {
			l.logger.Warn("Undecodable record, skipping rest of segment", "segment", id, "offset", offset, "error", err)
			break
		}
		if !record.Verify(rec) {
			l.logger.Warn("Checksum mismatch in replayed record", "segment", id, "offset", offset)
		}

		if err := fn(Location{SegmentID: id, Offset: offset}, rec); err != nil {
			return err
		}

		offset += size
		count++
	}

	l.logger.Debug("Replayed segment", "segment", id, "records", count, "bytes", offset)
	return nil
}

// Sync flushes the active segment to stable storage.
func (l *Log) Sync() error {
	if l.closed {
		return ErrClosed
	}
	if l.active == nil {
		return nil
	}
	return l.active.file.Sync()
}

// Close syncs the active segment and closes every open handle.
func (l *Log) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.active != nil {
		if err := l.active.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync segment %d: %w", l.active.id, err))
		}
		if err := l.active.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close segment %d: %w", l.active.id, err))
		}
		l.active = nil
	}

	for id, f := range l.readers {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close segment %d: %w", id, err))
		}
		delete(l.readers, id)
	}

	return errors.Join(errs...)
}
