package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal surface of a websocket connection the device
// manager needs. *websocket.Conn satisfies it, which lets tests inject
// a scripted fake.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens a socket to the terminal.
type DialFunc func(ctx context.Context, address string) (Socket, error)

// PreflightFunc checks that something answers at the address before
// the websocket handshake is attempted.
type PreflightFunc func(ctx context.Context, address string) error

// DialWebsocket is the production DialFunc.
func DialWebsocket(ctx context.Context, address string) (Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open socket to %s (status %s): %w", address, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to open socket to %s: %w", address, err)
	}

	return conn, nil
}

var preflightClient = &http.Client{Timeout: 5 * time.Second}

// HTTPPreflight issues a HEAD request against the http(s) rendering of
// the websocket address. Only transport-level failures abort the open;
// any HTTP status at all means something answered and the socket is
// worth attempting.
func HTTPPreflight(ctx context.Context, address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("terminal address %q is not a url: %w", address, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := preflightClient.Do(req)
	if err != nil {
		return fmt.Errorf("terminal address failed pre-flight check: %w", err)
	}
	resp.Body.Close()

	return nil
}
