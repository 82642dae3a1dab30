package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"vault-signal/common"
	"vault-signal/configs"
	"vault-signal/protocol"

	"github.com/gorilla/websocket"
)

// Transport is a websocket connection to the relay carrying common.Message frames.
type Transport struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the relay as userID. serverURL may use http(s) or ws(s).
func Dial(ctx context.Context, serverURL, userID string) (*Transport, error) {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += configs.WebSocketPath + "?user=" + url.QueryEscape(userID)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	return &Transport{ws: ws}, nil
}

func (t *Transport) Send(msg *common.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. A frame that does not decode returns a serialization error and the connection
// stays usable; any other error means the connection is gone.
func (t *Transport) Receive() (*common.Message, error) {
	_, data, err := t.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg common.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrSerialization, err)
	}
	return &msg, nil
}

func (t *Transport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.ws.Close()
}
