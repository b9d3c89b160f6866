package signal

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Handlers receives relay notifications. Callbacks fire from the client's
// read goroutine.
type Handlers struct {
	Signal func(from string, payload json.RawMessage)
	Joined func(peerID string)
	Left   func(peerID string)
}

// Client is one peer's connection to the signaling relay.
type Client struct {
	selfID   string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers Handlers
	logger   *log.Logger
	done     chan struct{}
	closeOne sync.Once
}

// Dial connects to the relay at the given base URL (http or ws scheme) and
// starts the read loop.
func Dial(relayURL, selfID string, handlers Handlers, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("id", selfID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		selfID:   selfID,
		conn:     conn,
		handlers: handlers,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send relays an opaque payload to the named peer.
func (c *Client) Send(to string, payload json.RawMessage) error {
	data, err := json.Marshal(Message{Type: TypeSignal, From: c.selfID, To: to, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the relay connection down.
func (c *Client) Close() {
	c.closeOne.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed once the relay connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Printf("[signal] discarding malformed relay message: %v", err)
			continue
		}
		switch msg.Type {
		case TypeSignal:
			if c.handlers.Signal != nil {
				c.handlers.Signal(msg.From, msg.Payload)
			}
		case TypeUserJoined:
			if msg.PeerID != c.selfID && c.handlers.Joined != nil {
				c.handlers.Joined(msg.PeerID)
			}
		case TypeUserLeft:
			if msg.PeerID != c.selfID && c.handlers.Left != nil {
				c.handlers.Left(msg.PeerID)
			}
		default:
			c.logger.Printf("[signal] unknown relay message type %q", msg.Type)
		}
	}
}
