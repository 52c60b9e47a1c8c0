package bitcask

import "github.com/0xRadioAc7iv/keycask/internal"

type Option func(*internal.Config)

func WithHost(host string) Option {
	return func(c *internal.Config) {
		c.Host = host
	}
}

func WithPort(port int) Option {
	return func(c *internal.Config) {
		c.Port = port
	}
}

// WithIPVersion restricts the dial to "inet4" or "inet6".
func WithIPVersion(v string) Option {
	return func(c *internal.Config) {
		c.IPVersion = v
	}
}
