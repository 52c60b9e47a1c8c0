package bitcask

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/protocol"
)

var (
	// ErrNotFound is returned by Get when the server has no value for the key.
	ErrNotFound = errors.New("bitcask: no such key found or internal error")
	// ErrChecksum is returned by Get when the stored record failed its checksum.
	ErrChecksum = errors.New("bitcask: CRC failed")
	// ErrSetFailed is returned by Set when the server could not store the value.
	ErrSetFailed = errors.New("bitcask: SET failed")
	// ErrUnexpectedResponse is returned when a reply does not match the request.
	ErrUnexpectedResponse = errors.New("bitcask: unexpected response")
)

// Client is a connection to a keycask server. It is safe for concurrent
// use; requests are sent one at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Connect dials the server described by opts, defaulting to
// 127.0.0.1:29456.
func Connect(opts ...Option) (*Client, error) {
	cfg := internal.DefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	conn, err := net.Dial(cfg.Network(), addr)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

// Get returns the value stored for key.
func (c *Client) Get(key string) (string, error) {
	resp, err := c.sendCommand(protocol.CmdGet, []byte(key), nil)
	if err != nil {
		return "", err
	}

	switch resp.Kind {
	case protocol.GetSuccess:
		return string(resp.Payload), nil
	case protocol.GetFailure:
		if string(resp.Payload) == protocol.MsgCRCFailed {
			return "", ErrChecksum
		}
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("%w: %v to GET", ErrUnexpectedResponse, resp.Kind)
	}
}

// Set stores value under key.
func (c *Client) Set(key, value string) error {
	resp, err := c.sendCommand(protocol.CmdSet, []byte(key), []byte(value))
	if err != nil {
		return err
	}

	switch resp.Kind {
	case protocol.SetSuccess:
		return nil
	case protocol.SetFailure:
		return ErrSetFailed
	default:
		return fmt.Errorf("%w: %v to SET", ErrUnexpectedResponse, resp.Kind)
	}
}

// Execute sends a raw command by name ("get" or "set", any case) and
// returns the server's reply without interpreting it.
func (c *Client) Execute(cmd, key, value string) (*protocol.Response, error) {
	ct, err := protocol.ParseCommandType(cmd)
	if err != nil {
		return nil, err
	}
	return c.sendCommand(ct, []byte(key), []byte(value))
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) sendCommand(cmd protocol.CommandType, key, value []byte) (*protocol.Response, error) {
	payload, err := protocol.EncodeCommand(cmd, key, value)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(payload); err != nil {
		return nil, err
	}

	// A GET reply carries the value, so it may be as large as any request.
	return protocol.DecodeResponse(c.conn, 0)
}
