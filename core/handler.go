package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/0xRadioAc7iv/keycask/internal/protocol"
)

// Handler serves the binary protocol for one Bitcask over a connection.
type Handler struct {
	bk             *Bitcask
	maxMessageSize int
	logger         *slog.Logger
}

// NewHandler returns a Handler for bk. Request frames larger than
// maxMessageSize bytes close the connection; maxMessageSize <= 0 means
// no limit.
func NewHandler(bk *Bitcask, maxMessageSize int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bk:             bk,
		maxMessageSize: maxMessageSize,
		logger:         logger.With("component", "handler"),
	}
}

// ServeConn reads requests from conn until the client disconnects, a
// malformed or unknown request arrives, or ctx is cancelled. conn is
// closed on return.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	h.logger.Debug("Client connected", "remote", remote)

	for ctx.Err() == nil {
		cmd, err := protocol.DecodeCommand(conn, h.maxMessageSize)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				h.logger.Debug("Client disconnected", "remote", remote)
			case errors.Is(err, protocol.ErrUnknownCommand),
				errors.Is(err, protocol.ErrFrameTooLarge),
				errors.Is(err, protocol.ErrMalformedFrame):
				h.logger.Warn("Closing connection on bad request", "remote", remote, "error", err)
			default:
				h.logger.Debug("Connection read failed", "remote", remote, "error", err)
			}
			return
		}

		if err := protocol.WriteResponse(conn, h.Handle(cmd)); err != nil {
			h.logger.Debug("Failed to write response", "remote", remote, "error", err)
			return
		}
	}
}

// Handle runs one decoded command against the store and builds its reply.
func (h *Handler) Handle(cmd *protocol.Command) protocol.Response {
	switch cmd.Cmd {
	case protocol.CmdGet:
		return h.handleGet(cmd.Key)
	case protocol.CmdSet:
		return h.handleSet(cmd.Key, cmd.Val)
	default:
		// DecodeCommand never yields another command type.
		return protocol.Response{Kind: protocol.GetFailure, Payload: []byte(protocol.MsgNotFound)}
	}
}

func (h *Handler) handleGet(key []byte) protocol.Response {
	res, err := h.bk.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("GET failed", "error", err)
		}
		return protocol.Response{Kind: protocol.GetFailure, Payload: []byte(protocol.MsgNotFound)}
	}

	if !res.ChecksumOK {
		return protocol.Response{Kind: protocol.GetFailure, Payload: []byte(protocol.MsgCRCFailed)}
	}

	return protocol.Response{Kind: protocol.GetSuccess, Payload: res.Value}
}

func (h *Handler) handleSet(key, value []byte) protocol.Response {
	if err := h.bk.Set(key, value); err != nil {
		return protocol.Response{Kind: protocol.SetFailure, Payload: []byte(protocol.MsgSetFailed)}
	}
	return protocol.Response{Kind: protocol.SetSuccess, Payload: []byte(protocol.MsgSetSuccess)}
}
