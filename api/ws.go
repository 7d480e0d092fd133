package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sdxl-sizer/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Label   string `json:"label,omitempty"`
}

func noticeMessage(n session.Notice) wsMessage {
	return wsMessage{Type: n.Level, Message: n.Message}
}

func (h *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panel(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WS upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	// Serialise all WebSocket writes - gorilla/websocket forbids concurrent writes.
	var writeMu sync.Mutex
	writeMsg := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	outChan := make(chan session.Notice, 64)
	kick, backlog := p.SetClient(outChan) // kicks any prior client
	defer p.ClearClient(outChan)          // closes outChan

	// Replay the backlog before the pump starts so notices stay in order.
	for _, n := range backlog {
		if err := writeMsg(noticeMessage(n)); err != nil {
			h.log.Debug("WS backlog replay error", zap.Error(err))
			return
		}
	}

	// Goroutine: pump live notices to the client.
	// Exits when ClearClient closes outChan.
	go func() {
		for n := range outChan {
			if err := writeMsg(noticeMessage(n)); err != nil {
				return
			}
		}
	}()

	// Goroutine: watch for panel end or displacement and close the connection
	// so ReadJSON below unblocks immediately.
	connDone := make(chan struct{})
	go func() {
		select {
		case <-p.Done():
			writeMsg(wsMessage{Type: "closed"}) //nolint:errcheck
			conn.Close()
		case <-kick:
			// Displaced by a newer connection - close without a "closed" message.
			conn.Close()
		case <-connDone:
		}
	}()
	defer close(connDone)

	// Main loop: client actions. Results and failures reach the client as
	// notices through the pump above.
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "select":
			if err := p.Select(msg.Label); err != nil {
				p.Notify(session.LevelError, session.Message(err))
			}
		case "read":
			p.ReadFromImages() //nolint:errcheck
		case "apply":
			p.Apply() //nolint:errcheck
		default:
			h.log.Debug("Unknown WS message", zap.String("type", msg.Type))
		}
	}
}
