package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ResponseKind tells the client how to interpret a response payload.
type ResponseKind uint8

const (
	GetSuccess ResponseKind = 0 // payload is the value
	GetFailure ResponseKind = 1 // payload is a reason
	SetSuccess ResponseKind = 2
	SetFailure ResponseKind = 3
)

func (k ResponseKind) String() string {
	switch k {
	case GetSuccess:
		return "GET_SUCCESS"
	case GetFailure:
		return "GET_FAILURE"
	case SetSuccess:
		return "SET_SUCCESS"
	case SetFailure:
		return "SET_FAILURE"
	default:
		return fmt.Sprintf("ResponseKind(%d)", uint8(k))
	}
}

// Fixed response payloads.
const (
	MsgNotFound   = "No such key found or internal error"
	MsgCRCFailed  = "CRC failed"
	MsgSetSuccess = "SET succeeded"
	MsgSetFailed  = "SET failed"
)

// ResponseHeaderSize is msg_size(4) + kind(1) + len(4).
const ResponseHeaderSize = 9

// Response is one server reply.
type Response struct {
	Kind    ResponseKind
	Payload []byte
}

// EncodeResponse serializes a response as
//
//	<msg_size:uint32><kind:uint8><len:uint32><payload>
//
// with msg_size counting the whole frame.
func EncodeResponse(resp Response) ([]byte, error) {
	total := uint64(ResponseHeaderSize) + uint64(len(resp.Payload))
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))

	if err := binary.Write(buf, binary.BigEndian, uint32(total)); err != nil {
		return nil, err
	}
	buf.WriteByte(uint8(resp.Kind))
	if err := binary.Write(buf, binary.BigEndian, uint32(len(resp.Payload))); err != nil {
		return nil, err
	}

	buf.Write(resp.Payload)

	return buf.Bytes(), nil
}

// DecodeResponse reads one response from r. maxSize <= 0 disables the
// frame size check.
func DecodeResponse(r io.Reader, maxSize int) (*Response, error) {
	header := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	msgSize := binary.BigEndian.Uint32(header[0:4])
	kind := ResponseKind(header[4])
	payloadLen := binary.BigEndian.Uint32(header[5:9])

	if uint64(msgSize) != uint64(ResponseHeaderSize)+uint64(payloadLen) {
		return nil, fmt.Errorf("%w: msg_size %d, payload %d", ErrMalformedFrame, msgSize, payloadLen)
	}
	if maxSize > 0 && uint64(msgSize) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, msgSize, maxSize)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Response{Kind: kind, Payload: payload}, nil
}

// WriteResponse encodes resp and writes it to w in one call.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
