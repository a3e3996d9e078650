package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/websocket"
	gorilla "github.com/gorilla/websocket"
)

// Watch follows a wallet's player updates over the websocket feed and calls
// fn for each one. It returns when ctx is done or the connection drops.
// ready, when non-nil, is closed once the server confirms the subscription.
func (c *Client) Watch(ctx context.Context, wallet string, ready chan<- struct{}, fn func(*domain.PlayerRecord)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"wallet": {wallet}}.Encode()

	conn, _, err := gorilla.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading feed: %w", err)
		}

		// the server coalesces queued frames with newlines
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var msg websocket.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case websocket.MessageTypeSubscribed:
				if ready != nil && msg.Wallet == wallet {
					close(ready)
					ready = nil
				}
			case websocket.MessageTypePlayerUpdate:
				if msg.Wallet != wallet {
					continue
				}
				var rec domain.PlayerRecord
				if err := json.Unmarshal(msg.Data, &rec); err != nil {
					continue
				}
				if rec.Wallet == "" {
					rec.Wallet = wallet
				}
				fn(&rec)
			case websocket.MessageTypeError:
				return fmt.Errorf("feed error: %s", msg.Data)
			}
		}
	}
}
