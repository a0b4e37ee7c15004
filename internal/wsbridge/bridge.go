package wsbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/h3core/internal/h3conn"
)

// IsWebSocketUpgrade reports whether h is an extended CONNECT request for
// the "websocket" protocol (RFC 9220 §4): method CONNECT with a
// :protocol pseudo-header of "websocket".
func IsWebSocketUpgrade(h h3conn.Header) bool {
	return h.Pseudo.Method == "CONNECT" && h.Pseudo.Protocol == "websocket"
}

// UpgradeResponse builds the response header that accepts an extended
// CONNECT websocket request: a plain 200, per RFC 9220 §4 (no Upgrade/
// Connection fields — those are an h1-ism; HTTP/3 signals the accepted
// protocol entirely through :status and the prior :protocol request).
func UpgradeResponse() h3conn.Header {
	return h3conn.Header{Pseudo: h3conn.PseudoHeaders{Status: "200"}}
}

// Bridge runs a WebSocket endpoint over an already-accepted extended
// CONNECT stream, grounded on the teacher's websocket.Handler read pump.
type Bridge struct {
	logger *slog.Logger
}

// NewBridge returns a Bridge. logger may be nil.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// ServeEcho wraps stream in a gorilla websocket.Conn and echoes every
// message it receives back to the peer until the connection closes. This
// is the demonstration endpoint referenced by SPEC_FULL §11: proof that a
// SendDriver/RecvDriver pair's body halves can carry an arbitrary duplex
// protocol, not just a single request/response body.
func (b *Bridge) ServeEcho(ctx context.Context, stream *DuplexStream) error {
	conn := websocket.NewConn(stream, true, 4096, 4096)
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if b.logger != nil {
					b.logger.Warn("websocket read error", "error", err)
				}
			}
			return nil
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return fmt.Errorf("wsbridge: write message: %w", err)
		}
	}
}
