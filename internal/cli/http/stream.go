package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Stream opens a websocket at path, sends body as the first message and
// hands every following message to onMessage until the server closes the
// socket. The client timeout bounds the whole exchange.
func (c *Client) Stream(ctx context.Context, path string, headers map[string]string, body []byte, onMessage func([]byte) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	header := http.Header{}
	for k, v := range headers {
		if v != "" {
			header.Set(k, v)
		}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, websocketURL(c.baseURL)+path, header)
	if err != nil {
		return fmt.Errorf("open stream failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("stream aborted: %w", ctx.Err())
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("stream closed: %w", err)
			}
			return fmt.Errorf("read stream failed: %w", err)
		}
		if err := onMessage(data); err != nil {
			return err
		}
	}
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
