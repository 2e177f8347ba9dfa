package websocket

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface of a full-duplex message connection. The
// production implementation is *gorilla/websocket.Conn; tests substitute
// scripted fakes.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection
	// fails. The returned error carries the close code on closure.
	ReadMessage() (messageType int, data []byte, err error)
	// WriteMessage writes one frame.
	WriteMessage(messageType int, data []byte) error
	// Close tears the connection down.
	Close() error
}

// Dialer opens a Conn to the given endpoint. Injected so tests can count
// transport constructions and script inbound frames.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// DefaultDialer dials a websocket endpoint with a handshake timeout.
func DefaultDialer(ctx context.Context, endpoint string) (Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// endpointWithToken appends the bearer credential as a query parameter, the
// only authentication mechanism of the connection handshake.
func endpointWithToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isNormalClose reports whether a read error represents a deliberate,
// normal closure. Every other close code triggers automatic reconnection.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
