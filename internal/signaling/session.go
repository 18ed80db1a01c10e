package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peercall/coordinator/internal/protocol"
)

const writeWait = 1 * time.Second

// session is one client's WebSocket channel. It satisfies relay.Conn; the
// relay calls Send from under its mutex, so writes must be quick and bounded.
// writeMu serializes the session loop's control frames with relay sends.
type session struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (s *session) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *session) close(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
