package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 45 * time.Second
	wsPingEvery = 15 * time.Second
)

// envelopeEnvelope is used only to sniff the "type" discriminator before
// decoding into the concrete envelope struct.
type typeSniff struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the connection and registers it as a bridge client
// under tenantID/deviceID (typically extracted from auth middleware ahead
// of this handler; kept as parameters here to stay transport-agnostic).
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request, tenantID, deviceID string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := b.registerClient(tenantID, deviceID)
	defer func() {
		cancel()
		b.unregisterClient(c)
		conn.Close()
	}()

	go b.writeLoop(ctx, conn, c)
	b.readLoop(ctx, conn)
}

func (b *Bridge) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(4 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.handleInbound(data)
	}
}

func (b *Bridge) handleInbound(data []byte) {
	var sniff typeSniff
	if err := json.Unmarshal(data, &sniff); err != nil {
		return
	}
	switch sniff.Type {
	case "local_tool.ack":
		var ack AckEnvelope
		if err := json.Unmarshal(data, &ack); err == nil {
			b.OnAck(ack)
		}
	case "local_tool.result":
		var result ResultEnvelope
		if err := json.Unmarshal(data, &result); err == nil {
			b.OnResult(result)
		}
	}
}
