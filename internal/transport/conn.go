// Package transport defines the socket boundary of the presence client.
package transport

import (
	"context"
	"crypto/tls"
	"net/http"
)

// Conn abstracts a websocket connection carrying text frames.
// This interface isolates the websocket library from the presence logic.
type Conn interface {
	// Read reads a single text frame.
	// Returns an error once the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// DialOptions configures a single dial.
type DialOptions struct {
	// TLSConfig is used for wss URLs. Nil means the system defaults.
	TLSConfig *tls.Config

	// Header is sent with the handshake request (Origin, for example).
	Header http.Header
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, opts DialOptions) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, opts DialOptions) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string, opts DialOptions) (Conn, error) {
	return f(ctx, url, opts)
}
