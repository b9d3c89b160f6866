package signal

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type relayClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *relayClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Relay is the connection-bootstrap hub: it forwards opaque signal payloads
// between two named peers and fans out join/leave notifications. It never
// inspects payloads and carries no game traffic.
type Relay struct {
	mu       sync.Mutex
	clients  map[string]*relayClient
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewRelay constructs an empty relay hub.
func NewRelay(logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		clients: make(map[string]*relayClient),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades a peer's websocket and serves its signaling session until
// the connection drops.
func (r *Relay) Handle(w http.ResponseWriter, req *http.Request) {
	peerID := req.URL.Query().Get("id")
	if peerID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("[signal] upgrade failed for %s: %v", peerID, err)
		return
	}

	client := &relayClient{conn: conn}

	r.mu.Lock()
	if existing, ok := r.clients[peerID]; ok {
		existing.conn.Close()
	}
	roster := make([]string, 0, len(r.clients))
	for id := range r.clients {
		roster = append(roster, id)
	}
	r.clients[peerID] = client
	r.mu.Unlock()

	// Tell the newcomer who is already here, then announce the newcomer.
	for _, id := range roster {
		r.send(client, Message{Type: TypeUserJoined, PeerID: id})
	}
	r.fanOut(peerID, Message{Type: TypeUserJoined, PeerID: peerID})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.logger.Printf("[signal] discarding malformed message from %s: %v", peerID, err)
			continue
		}
		if msg.Type != TypeSignal || msg.To == "" {
			continue
		}
		msg.From = peerID
		r.forward(msg)
	}

	r.mu.Lock()
	if current, ok := r.clients[peerID]; ok && current == client {
		delete(r.clients, peerID)
	}
	r.mu.Unlock()
	conn.Close()

	r.fanOut(peerID, Message{Type: TypeUserLeft, PeerID: peerID})
}

func (r *Relay) forward(msg Message) {
	r.mu.Lock()
	target := r.clients[msg.To]
	r.mu.Unlock()
	if target == nil {
		return
	}
	r.send(target, msg)
}

func (r *Relay) fanOut(exclude string, msg Message) {
	r.mu.Lock()
	targets := make([]*relayClient, 0, len(r.clients))
	for id, client := range r.clients {
		if id != exclude {
			targets = append(targets, client)
		}
	}
	r.mu.Unlock()
	for _, client := range targets {
		r.send(client, msg)
	}
}

func (r *Relay) send(client *relayClient, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Printf("[signal] failed to marshal %s message: %v", msg.Type, err)
		return
	}
	if err := client.write(data); err != nil {
		client.conn.Close()
	}
}
