package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"safechat/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// Inbound frame types.
const (
	frameAuthenticate  = "authenticate"
	frameJoinModerator = "join-moderator"
	frameTypingStart   = "typing-start"
	frameTypingStop    = "typing-stop"
	framePing          = "ping"
	frameAnalyze       = "analyze-message"
)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type authenticateData struct {
	UserID string `json:"user_id"`
}

// Client is a websocket Subscriber. Frames are queued on a buffered channel
// drained by writePump.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ Subscriber = (*Client)(nil)

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// Send implements Subscriber.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close implements Subscriber. writePump sends a close frame and exits.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Serve registers the client and pumps frames until the connection ends.
// It blocks until the read side closes.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(EventError, map[string]string{"error": "invalid frame"})
			continue
		}
		if err := c.handle(frame); err != nil {
			c.reply(EventError, map[string]string{"error": err.Error()})
		}
	}
}

func (c *Client) handle(frame inboundFrame) error {
	switch frame.Type {
	case frameAuthenticate:
		var d authenticateData
		if err := decodeData(frame.Data, &d); err != nil {
			return err
		}
		return c.hub.Authenticate(c, d.UserID)
	case frameJoinModerator:
		return c.hub.JoinGroup(c, GroupModerators)
	case frameTypingStart, frameTypingStop:
		var in TypingInput
		if err := decodeData(frame.Data, &in); err != nil {
			return err
		}
		return c.hub.Typing(c, frame.Type == frameTypingStart, in)
	case frameAnalyze:
		var in AnalyzingInput
		if err := decodeData(frame.Data, &in); err != nil {
			return err
		}
		return c.hub.Analyzing(c, in)
	case framePing:
		c.reply(EventPong, nil)
		return nil
	default:
		return errors.New("unknown frame type " + frame.Type)
	}
}

func (c *Client) reply(t EventType, data any) {
	frame, err := json.Marshal(Event{Type: t, Data: data})
	if err != nil {
		return
	}
	c.Send(frame)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// ハブ側で閉じられた
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid frame data")
	}
	return nil
}
