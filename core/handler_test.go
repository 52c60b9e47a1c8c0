package core_test

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xRadioAc7iv/keycask/core"
	"github.com/0xRadioAc7iv/keycask/internal/protocol"
	"github.com/0xRadioAc7iv/keycask/internal/record"
)

// startHandler serves one end of a pipe and returns the other.
func startHandler(t *testing.T, bk *core.Bitcask, maxMessageSize int) (net.Conn, <-chan struct{}) {
	t.Helper()

	client, server := net.Pipe()
	h := core.NewHandler(bk, maxMessageSize, quietLogger())

	done := make(chan struct{})
	go func() {
		h.ServeConn(context.Background(), server)
		close(done)
	}()

	t.Cleanup(func() {
		client.Close()
		<-done
	})

	return client, done
}

func roundTrip(t *testing.T, conn net.Conn, cmd protocol.CommandType, key, val string) *protocol.Response {
	t.Helper()

	payload, err := protocol.EncodeCommand(cmd, []byte(key), []byte(val))
	require.NoError(t, err)

	_, err = conn.Write(payload)
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(conn, 0)
	require.NoError(t, err)

	return resp
}

func TestHandlerSetGet(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	conn, _ := startHandler(t, bk, 0)

	resp := roundTrip(t, conn, protocol.CmdSet, "foo", "bar")
	assert.Equal(t, protocol.SetSuccess, resp.Kind)
	assert.Equal(t, protocol.MsgSetSuccess, string(resp.Payload))

	resp = roundTrip(t, conn, protocol.CmdGet, "foo", "")
	assert.Equal(t, protocol.GetSuccess, resp.Kind)
	assert.Equal(t, "bar", string(resp.Payload))

	resp = roundTrip(t, conn, protocol.CmdSet, "empty", "")
	assert.Equal(t, protocol.SetSuccess, resp.Kind)

	resp = roundTrip(t, conn, protocol.CmdGet, "empty", "")
	assert.Equal(t, protocol.GetSuccess, resp.Kind)
	assert.Empty(t, resp.Payload)
}

func TestHandlerGetMissing(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	conn, _ := startHandler(t, bk, 0)

	resp := roundTrip(t, conn, protocol.CmdGet, "missing", "")
	assert.Equal(t, protocol.GetFailure, resp.Kind)
	assert.Equal(t, protocol.MsgNotFound, string(resp.Payload))
}

func TestHandlerChecksumFailure(t *testing.T) {
	dir := t.TempDir()
	bk := openBitcask(t, core.Options{Dir: dir})
	conn, _ := startHandler(t, bk, 0)

	resp := roundTrip(t, conn, protocol.CmdSet, "k", "value")
	require.Equal(t, protocol.SetSuccess, resp.Kind)

	f, err := os.OpenFile(segmentPath(dir, 0), os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, int64(record.HeaderSize+1+2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	resp = roundTrip(t, conn, protocol.CmdGet, "k", "")
	assert.Equal(t, protocol.GetFailure, resp.Kind)
	assert.Equal(t, protocol.MsgCRCFailed, string(resp.Payload))
}

func TestHandlerSetFailureAfterClose(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	conn, _ := startHandler(t, bk, 0)

	require.NoError(t, bk.Close())

	resp := roundTrip(t, conn, protocol.CmdSet, "k", "v")
	assert.Equal(t, protocol.SetFailure, resp.Kind)
	assert.Equal(t, protocol.MsgSetFailed, string(resp.Payload))

	resp = roundTrip(t, conn, protocol.CmdGet, "k", "")
	assert.Equal(t, protocol.GetFailure, resp.Kind)
}

func TestHandlerClosesOnUnknownCommand(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	conn, done := startHandler(t, bk, 0)

	payload, err := protocol.EncodeCommand(protocol.CmdGet, []byte("k"), nil)
	require.NoError(t, err)
	payload[4] = 42

	go conn.Write(payload)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not close the connection")
	}

	_, err = protocol.DecodeResponse(conn, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandlerClosesOnOversizedFrame(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	conn, done := startHandler(t, bk, 64)

	payload, err := protocol.EncodeCommand(protocol.CmdSet, []byte("k"), make([]byte, 128))
	require.NoError(t, err)

	go conn.Write(payload)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not close the connection")
	}

	assert.Equal(t, 0, bk.Len())
}

func TestHandlerHandle(t *testing.T) {
	bk := openBitcask(t, core.Options{Dir: t.TempDir()})
	h := core.NewHandler(bk, 0, quietLogger())

	resp := h.Handle(&protocol.Command{Cmd: protocol.CmdSet, Key: []byte("a"), Val: []byte("1")})
	assert.Equal(t, protocol.SetSuccess, resp.Kind)

	resp = h.Handle(&protocol.Command{Cmd: protocol.CmdGet, Key: []byte("a")})
	assert.Equal(t, protocol.GetSuccess, resp.Kind)
	assert.Equal(t, []byte("1"), resp.Payload)
}
