package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Record is one checksummed key/value entry in a segment.
//
// On disk (all integers big-endian):
//
//	checksum:u32 | timestamp:i64 | key_size:u32 | value_size:u32 | key | value
//
// The checksum covers everything after itself.
type Record struct {
	Checksum  uint32 // CRC-32 of the remaining fields
	Timestamp int64  // Unix timestamp in nanoseconds
	KeySize   uint32 // Length of Key in bytes
	ValueSize uint32 // Length of Value in bytes
	Key       []byte
	Value     []byte
}

// Header is the fixed-size prefix of a Record.
type Header struct {
	Checksum  uint32
	Timestamp int64
	KeySize   uint32
	ValueSize uint32
}

// Checksum (4) + Timestamp (8) + KeySize (4) + ValueSize (4)
const HeaderSize = 20

var (
	// ErrTruncated is returned when a buffer is shorter than the record it describes.
	ErrTruncated = errors.New("record: truncated")
	// ErrTooLarge is returned when a key or value does not fit a 32-bit length.
	ErrTooLarge = errors.New("record: key or value too large")
)

// New builds a record for key/value stamped with the current time. The
// checksum is filled in by Encode.
func New(key, value []byte) (*Record, error) {
	if uint64(len(key)) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}

	return &Record{
		Timestamp: time.Now().UnixNano(),
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Key:       key,
		Value:     value,
	}, nil
}

// Size returns the number of bytes the record occupies on disk.
func (r *Record) Size() int {
	return HeaderSize + len(r.Key) + len(r.Value)
}

// Encode serializes r and stores the computed checksum both in the
// returned bytes and in r.Checksum.
func Encode(r *Record) []byte {
	buf := make([]byte, HeaderSize+len(r.Key)+len(r.Value))

	binary.BigEndian.PutUint64(buf[4:12], uint64(r.Timestamp))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(r.Key)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(r.Value)))
	copy(buf[HeaderSize:], r.Key)
	copy(buf[HeaderSize+len(r.Key):], r.Value)

	r.KeySize = uint32(len(r.Key))
	r.ValueSize = uint32(len(r.Value))
	r.Checksum = Checksum(buf[4:])
	binary.BigEndian.PutUint32(buf[0:4], r.Checksum)

	return buf
}

// DecodeHeader decodes the fixed-size header at the start of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}

	return Header{
		Checksum:  binary.BigEndian.Uint32(data[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(data[4:12])),
		KeySize:   binary.BigEndian.Uint32(data[12:16]),
		ValueSize: binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// Decode parses one record from the start of data. Key and Value alias
// data. Lengths from the header are checked against len(data) before any
// slicing.
func Decode(data []byte) (*Record, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	need := uint64(HeaderSize) + uint64(h.KeySize) + uint64(h.ValueSize)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("%w: record needs %d bytes, have %d", ErrTruncated, need, len(data))
	}

	keyEnd := HeaderSize + int(h.KeySize)
	return &Record{
		Checksum:  h.Checksum,
		Timestamp: h.Timestamp,
		KeySize:   h.KeySize,
		ValueSize: h.ValueSize,
		Key:       data[HeaderSize:keyEnd],
		Value:     data[keyEnd : keyEnd+int(h.ValueSize)],
	}, nil
}

// Verify recomputes the checksum of a decoded record and compares it to
// the stored one. A mismatch means the bytes on disk are corrupt.
func Verify(r *Record) bool {
	covered := make([]byte, HeaderSize-4+len(r.Key)+len(r.Value))

	binary.BigEndian.PutUint64(covered[0:8], uint64(r.Timestamp))
	binary.BigEndian.PutUint32(covered[8:12], r.KeySize)
	binary.BigEndian.PutUint32(covered[12:16], r.ValueSize)
	copy(covered[16:], r.Key)
	copy(covered[16+len(r.Key):], r.Value)

	return ValidateChecksum(covered, r.Checksum)
}

// VerifyBytes checks the checksum of one raw on-disk record without
// decoding it.
func VerifyBytes(data []byte) bool {
	if len(data) < HeaderSize {
		return false
	}
	return ValidateChecksum(data[4:], binary.BigEndian.Uint32(data[0:4]))
}
