package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// CommandType identifies the operation a request asks for.
type CommandType uint8

const (
	CmdGet CommandType = 0
	CmdSet CommandType = 1
)

func (c CommandType) String() string {
	switch c {
	case CmdGet:
		return "GET"
	case CmdSet:
		return "SET"
	default:
		return fmt.Sprintf("CommandType(%d)", uint8(c))
	}
}

// CommandHeaderSize is the fixed part of a request frame:
// msg_size(4) + cmd(1) + key_size(4) + value_size(4).
const CommandHeaderSize = 13

var (
	// ErrUnknownCommand is returned when the command byte is neither GET nor SET.
	ErrUnknownCommand = errors.New("protocol: unknown command")
	// ErrFrameTooLarge is returned when a frame exceeds the allowed size.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrMalformedFrame is returned when the declared frame size disagrees
	// with the sizes of its fields.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// Command represents a decoded client request.
//
// Val is empty for GET.
type Command struct {
	Cmd CommandType
	Key []byte
	Val []byte
}

// EncodeCommand serializes a client command into its wire format.
//
// The command is encoded as:
//
//	<msg_size:uint32><cmd:uint8><key_size:uint32><value_size:uint32><key><value>
//
// msg_size counts the whole frame including itself. All integer fields are
// encoded using big-endian byte order.
func EncodeCommand(cmd CommandType, key, val []byte) ([]byte, error) {
	if cmd != CmdGet && cmd != CmdSet {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(cmd))
	}

	total := uint64(CommandHeaderSize) + uint64(len(key)) + uint64(len(val))
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))

	if err := binary.Write(buf, binary.BigEndian, uint32(total)); err != nil {
		return nil, err
	}
	buf.WriteByte(uint8(cmd))
	if err := binary.Write(buf, binary.BigEndian, uint32(len(key))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(val))); err != nil {
		return nil, err
	}

	buf.Write(key)
	buf.Write(val)

	return buf.Bytes(), nil
}

// DecodeCommand reads and decodes one request from r.
//
// Frames larger than maxSize bytes are rejected with ErrFrameTooLarge
// before their payload is read; maxSize <= 0 disables the check. An
// unknown command byte yields ErrUnknownCommand. Either error leaves the
// stream positioned mid-frame, so the caller should drop the connection.
//
// DecodeCommand blocks until the full command has been read or an error
// occurs. io.EOF is returned unwrapped when r ends cleanly between frames.
func DecodeCommand(r io.Reader, maxSize int) (*Command, error) {
	header := make([]byte, CommandHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	msgSize := binary.BigEndian.Uint32(header[0:4])
	cmd := CommandType(header[4])
	keyLen := binary.BigEndian.Uint32(header[5:9])
	valLen := binary.BigEndian.Uint32(header[9:13])

	if cmd != CmdGet && cmd != CmdSet {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(cmd))
	}

	total := uint64(CommandHeaderSize) + uint64(keyLen) + uint64(valLen)
	if total != uint64(msgSize) {
		return nil, fmt.Errorf("%w: msg_size %d, fields need %d", ErrMalformedFrame, msgSize, total)
	}
	if maxSize > 0 && total > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, total, maxSize)
	}

	payload := make([]byte, keyLen+valLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Command{
		Cmd: cmd,
		Key: payload[:keyLen:keyLen],
		Val: payload[keyLen:],
	}, nil
}

// ParseCommandType maps a case-insensitive command name to its type.
func ParseCommandType(name string) (CommandType, error) {
	switch strings.ToLower(name) {
	case "get":
		return CmdGet, nil
	case "set":
		return CmdSet, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}
