package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// peerConn is the hub's write handle on one relay connection. The hub
// serialises writes per peer; peerConn only adds the deadline.
type peerConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func newPeerConn(conn *websocket.Conn, timeout time.Duration) *peerConn {
	return &peerConn{conn: conn, timeout: timeout}
}

func (p *peerConn) WriteMessage(messageType int, data []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(messageType, data)
}

func (p *peerConn) Close() error {
	return p.conn.Close()
}

func (p *peerConn) closeWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(p.timeout))
	p.conn.Close()
}
