package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/record"
)

func openLog(t *testing.T, dir string, maxSize uint64) *Log {
	t.Helper()

	l, err := Open(Options{Dir: dir, MaxSegmentSize: maxSize, LockFileName: "LOCK"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l
}

func encode(key, value string) []byte {
	return record.Encode(&record.Record{Timestamp: 1, Key: []byte(key), Value: []byte(value)})
}

type replayed struct {
	loc   Location
	key   string
	value string
}

func replayAll(t *testing.T, l *Log) []replayed {
	t.Helper()

	var got []replayed
	err := l.Replay(func(loc Location, rec *record.Record) error {
		got = append(got, replayed{loc: loc, key: string(rec.Key), value: string(rec.Value)})
		return nil
	})
	require.NoError(t, err)

	return got
}

func TestSegmentFileNameFormat(t *testing.T) {
	tests := []struct {
		id       uint32
		expected string
	}{
		{0, "store_0.data"},
		{12, "store_12.data"},
		{4294967295, "store_4294967295.data"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FileName("store", tt.id))

			id, err := ParseFileName("store", tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}

	t.Run("ParseError", func(t *testing.T) {
		for _, name := range []string{"LOCK", "store_.data", "store_1.data.bak", "other_1.data", "store_x1.data", "store_4294967296.data"} {
			_, err := ParseFileName("store", name)
			assert.Error(t, err, name)
		}
	})
}

func TestOpenDefaultsMaxSize(t *testing.T) {
	l, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, uint64(internal.DefaultMaxSegmentSize), l.maxSize)
}

func TestAppendAndRead(t *testing.T) {
	l := openLog(t, t.TempDir(), 1024)
	require.NoError(t, l.Activate())

	first := encode("k1", "v1")
	second := encode("k2", "")

	loc1, err := l.Append(first)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 0, Offset: 0}, loc1)

	loc2, err := l.Append(second)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 0, Offset: uint64(len(first))}, loc2)

	got, err := l.Read(loc1.SegmentID, loc1.Offset, uint64(len(first)))
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = l.Read(loc2.SegmentID, loc2.Offset, uint64(len(second)))
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestAppendBeforeActivate(t *testing.T) {
	l := openLog(t, t.TempDir(), 1024)

	_, err := l.Append(encode("k", "v"))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestAppendFailureKeepsCursor(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, 1024)
	require.NoError(t, l.Activate())

	first := encode("k1", "v1")
	_, err := l.Append(first)
	require.NoError(t, err)

	// Swap in a read-only handle so the next write fails.
	path := filepath.Join(dir, FileName(filepath.Base(dir), 0))
	rw := l.active.file
	ro, err := os.Open(path)
	require.NoError(t, err)
	l.active.file = ro

	_, err = l.Append(encode("k2", "lost"))
	require.Error(t, err)
	require.NoError(t, ro.Close())

	l.active.file = rw
	second := encode("k2", "v2")
	loc, err := l.Append(second)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 0, Offset: uint64(len(first))}, loc)

	got, err := l.Read(loc.SegmentID, loc.Offset, uint64(len(second)))
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestAppendFailedRotation(t *testing.T) {
	dir := t.TempDir()
	data := encode("key", "0123456789")
	l := openLog(t, dir, uint64(len(data)))
	require.NoError(t, l.Activate())

	_, err := l.Append(data)
	require.NoError(t, err)

	// The next segment's file already exists, so rotation cannot create it.
	blocker := filepath.Join(dir, FileName(filepath.Base(dir), 1))
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err = l.Append(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrExist)

	id, ok := l.ActiveID()
	require.True(t, ok)
	assert.Equal(t, uint32(0), id)
	assert.Equal(t, []uint32{0}, l.SegmentIDs())

	require.NoError(t, os.Remove(blocker))
	loc, err := l.Append(data)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 1, Offset: 0}, loc)
}

func TestReadFailures(t *testing.T) {
	l := openLog(t, t.TempDir(), 1024)
	require.NoError(t, l.Activate())

	data := encode("k", "v")
	_, err := l.Append(data)
	require.NoError(t, err)

	t.Run("PastEndOfSegment", func(t *testing.T) {
		_, err := l.Read(0, 0, uint64(len(data))+1)
		assert.ErrorIs(t, err, ErrReadFailure)
	})

	t.Run("UnknownSegment", func(t *testing.T) {
		_, err := l.Read(7, 0, 1)
		assert.ErrorIs(t, err, ErrReadFailure)
	})

	t.Run("Closed", func(t *testing.T) {
		require.NoError(t, l.Close())
		_, err := l.Read(0, 0, 1)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	data := encode("key", "0123456789")
	maxSize := uint64(len(data)*3 + len(data)/2)

	var rotations []uint32
	l, err := Open(Options{Dir: dir, MaxSegmentSize: maxSize, OnRotate: func(id uint32) { rotations = append(rotations, id) }})
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Activate())

	var locs []Location
	for i := 0; i < 10; i++ {
		loc, err := l.Append(data)
		require.NoError(t, err)
		locs = append(locs, loc)
	}

	assert.Equal(t, []uint32{0, 1, 2, 3}, l.SegmentIDs())
	assert.Equal(t, []uint32{1, 2, 3}, rotations)
	assert.Equal(t, Location{SegmentID: 1, Offset: 0}, locs[3])
	assert.Equal(t, Location{SegmentID: 3, Offset: uint64(len(data) * 0)}, locs[9])

	for _, id := range l.SegmentIDs() {
		info, err := os.Stat(filepath.Join(dir, FileName(filepath.Base(dir), id)))
		require.NoError(t, err)
		assert.LessOrEqual(t, uint64(info.Size()), maxSize)
	}

	// Sealed segments remain readable.
	got, err := l.Read(locs[0].SegmentID, locs[0].Offset, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOversizedRecordIsWrittenWhole(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, 64)
	require.NoError(t, l.Activate())

	small := encode("a", "b")
	big := encode("big", string(make([]byte, 200)))

	_, err := l.Append(small)
	require.NoError(t, err)

	loc, err := l.Append(big)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 1, Offset: 0}, loc)

	loc, err = l.Append(small)
	require.NoError(t, err)
	assert.Equal(t, Location{SegmentID: 2, Offset: 0}, loc)

	info, err := os.Stat(filepath.Join(dir, FileName(filepath.Base(dir), 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(big)), info.Size())
}

func TestReplayOrdersSegmentsNumerically(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Base(dir)

	// "10" sorts before "2" lexically.
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 10)), encode("k", "from-10"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 2)), encode("k", "from-2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LOCK"), []byte("123"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))

	l := openLog(t, dir, 1024)
	assert.Equal(t, []uint32{2, 10}, l.SegmentIDs())

	got := replayAll(t, l)
	require.Len(t, got, 2)
	assert.Equal(t, "from-2", got[0].value)
	assert.Equal(t, "from-10", got[1].value)

	require.NoError(t, l.Activate())
	id, ok := l.ActiveID()
	require.True(t, ok)
	assert.Equal(t, uint32(11), id)
}

func TestReplayPassesChecksumMismatches(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Base(dir)

	good := encode("a", "1")
	bad := encode("b", "2")
	bad[len(bad)-1] ^= 0xff
	after := encode("c", "3")

	var seg0 []byte
	seg0 = append(seg0, good...)
	seg0 = append(seg0, bad...)
	seg0 = append(seg0, after...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 0)), seg0, 0644))

	// A torn write at the tail of the next segment.
	seg1 := append(encode("d", "4"), encode("e", "5")[:record.HeaderSize+1]...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 1)), seg1, 0644))

	l := openLog(t, dir, 1024)

	var (
		got      []replayed
		verified []bool
	)
	err := l.Replay(func(loc Location, rec *record.Record) error {
		got = append(got, replayed{loc: loc, key: string(rec.Key), value: string(rec.Value)})
		verified = append(verified, record.Verify(rec))
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, replayed{loc: Location{SegmentID: 0, Offset: 0}, key: "a", value: "1"}, got[0])
	assert.Equal(t, Location{SegmentID: 0, Offset: uint64(len(good))}, got[1].loc)
	assert.Equal(t, "b", got[1].key)
	assert.Equal(t, replayed{loc: Location{SegmentID: 0, Offset: uint64(len(good) + len(bad))}, key: "c", value: "3"}, got[2])
	assert.Equal(t, replayed{loc: Location{SegmentID: 1, Offset: 0}, key: "d", value: "4"}, got[3])
	assert.Equal(t, []bool{true, false, true, true}, verified)
}

func TestReplayStopsAtRecordPastEndOfFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Base(dir)

	// The second header claims a value far larger than the file.
	bogus := encode("b", "2")
	bogus[16], bogus[17] = 0x7f, 0xff

	var seg0 []byte
	seg0 = append(seg0, encode("a", "1")...)
	seg0 = append(seg0, bogus...)
	seg0 = append(seg0, encode("c", "3")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 0)), seg0, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base, 1)), encode("d", "4"), 0644))

	l := openLog(t, dir, 1024)
	got := replayAll(t, l)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].key)
	assert.Equal(t, "d", got[1].key)
}

func TestReplayCallbackErrorAborts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(filepath.Base(dir), 0)), encode("a", "1"), 0644))

	l := openLog(t, dir, 1024)
	boom := fmt.Errorf("boom")
	err := l.Replay(func(Location, *record.Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestActivateNeverReusesExistingFile(t *testing.T) {
	dir := t.TempDir()

	l := openLog(t, dir, 1024)
	require.NoError(t, l.Activate())
	_, err := l.Append(encode("k", "v"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2 := openLog(t, dir, 1024)
	require.NoError(t, l2.Activate())
	id, _ := l2.ActiveID()
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, []uint32{0, 1}, l2.SegmentIDs())
}
