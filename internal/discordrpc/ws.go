package discordrpc

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	rpcVersion   = 1
	wsPortFirst  = 6463
	wsPortCount  = 10
)

// wsTransport carries the RPC JSON as WebSocket text messages. Every
// message maps to a FRAME; close frames surface as ErrClosed.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebSocket tries the ten local RPC ports in order, presenting the
// configured RPC origin. Discord validates the Origin header, so a
// mismatch fails the upgrade on every port.
func DialWebSocket(clientID, origin string) (Transport, error) {
	header := http.Header{}
	header.Set("Origin", origin)

	var lastErr error
	for port := wsPortFirst; port < wsPortFirst+wsPortCount; port++ {
		u := fmt.Sprintf("ws://127.0.0.1:%d/?v=%d&client_id=%s&encoding=json",
			port, rpcVersion, url.QueryEscape(clientID))
		conn, _, err := websocket.DefaultDialer.Dial(u, header)
		if err != nil {
			logrus.WithError(err).WithField("port", port).Debug("RPC port refused")
			lastErr = err
			continue
		}
		logrus.WithField("port", port).Info("RPC WebSocket connected")
		return &wsTransport{conn: conn}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("could not connect to Discord. Is Discord running? (%w)", lastErr)
	}
	return nil, errors.New("could not connect to Discord. Is Discord running?")
}

func (t *wsTransport) Send(opcode uint32, payload []byte) error {
	// The WebSocket dialect has no explicit opcodes; handshake happens in
	// the upgrade and every payload travels as a text message.
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Recv() (uint32, []byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Text != "" {
					return 0, nil, fmt.Errorf("%w: %s", ErrClosed, closeErr.Text)
				}
				return 0, nil, ErrClosed
			}
			return 0, nil, err
		}
		if kind == websocket.TextMessage {
			return OpFrame, data, nil
		}
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
