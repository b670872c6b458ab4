package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pathvoice/internal/webspeech"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	maxFrameSize = 64 << 10
	sendBuffer   = 256
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// conn is the webspeech.Bus of one browser tab. Emit never blocks the
// orchestrator loop; frames are queued for writeLoop. A full queue drops
// status frames and closes the connection for anything else.
type conn struct {
	webspeech.Listeners

	id      string
	ws      *websocket.Conn
	logger  *zap.Logger
	metrics Recorder

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, metrics Recorder, logger *zap.Logger) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		logger:  logger.With(zap.String("conn_id", id)),
		metrics: metrics,
		send:    make(chan Frame, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *conn) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- Frame{Event: event, Data: data}:
	case <-c.done:
	default:
		if droppable(event) {
			c.logger.Warn("send buffer full, dropping frame", zap.String("event", event))
			return
		}
		// Losing a control frame would leave the session waiting forever.
		c.logger.Error("send buffer full, closing connection", zap.String("event", event))
		c.close()
	}
}

// droppable reports whether a frame only refreshes what the page shows.
func droppable(event string) bool {
	switch event {
	case webspeech.EventSession, webspeech.EventNotice:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
			c.metrics.FrameSeen("out")
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop decodes frames until the peer goes away. Frames are handed to
// handle in arrival order.
func (c *conn) readLoop(handle func(Frame)) {
	defer c.close()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame")
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.metrics.FrameSeen("in")
		handle(frame)
	}
}
