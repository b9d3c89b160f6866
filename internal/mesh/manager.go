package mesh

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 8 * time.Second
	reconnectAttempts  = 6
)

// Dialer establishes a websocket connection to the named peer. The app layer
// supplies one that resolves peer ids to mesh addresses learned over
// signaling.
type Dialer func(ctx context.Context, peerID string) (*websocket.Conn, error)

// Events receives connection-lifecycle and data callbacks. Callbacks fire
// from link goroutines; consumers serialize internally.
type Events struct {
	PeerConnected    func(peerID string)
	PeerDisconnected func(peerID string)
	PeerError        func(peerID string, err error)
	Data             func(peerID string, payload []byte)
}

// Manager owns one Link per remote participant and degrades gracefully to
// fewer peers: a peer that never connects simply never shows up in
// ConnectedPeers.
type Manager struct {
	selfID string
	dialer Dialer
	logger *log.Logger

	// Heartbeat cadence; defaults suit real links, tests shrink them.
	pingEvery time.Duration
	pongWait  time.Duration

	mu         sync.Mutex
	links      map[string]*Link
	dialing    map[string]bool
	originated map[string]bool
	dropped    map[string]bool
	listeners  []Events
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager constructs a mesh manager for the given local participant.
func NewManager(selfID string, dialer Dialer, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		selfID:     selfID,
		dialer:     dialer,
		logger:     logger,
		pingEvery:  pingInterval,
		pongWait:   pongWait,
		links:      make(map[string]*Link),
		dialing:    make(map[string]bool),
		originated: make(map[string]bool),
		dropped:    make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// AddListener registers a lifecycle/data consumer.
func (m *Manager) AddListener(events Events) {
	m.mu.Lock()
	m.listeners = append(m.listeners, events)
	m.mu.Unlock()
}

// SelfID returns the local participant id.
func (m *Manager) SelfID() string { return m.selfID }

// ConnectTo dials the named peer and registers the resulting link.
// Idempotent: an existing or in-flight connection makes this a no-op. The
// dial retries with capped exponential backoff before giving up.
func (m *Manager) ConnectTo(peerID string) {
	m.mu.Lock()
	if m.closed || peerID == m.selfID || m.links[peerID] != nil || m.dialing[peerID] {
		m.mu.Unlock()
		return
	}
	if m.dialer == nil {
		m.mu.Unlock()
		return
	}
	m.dialing[peerID] = true
	delete(m.dropped, peerID)
	m.mu.Unlock()

	go m.dialLoop(peerID)
}

func (m *Manager) dialLoop(peerID string) {
	defer func() {
		m.mu.Lock()
		delete(m.dialing, peerID)
		m.mu.Unlock()
	}()

	delay := reconnectBaseDelay
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		conn, err := m.dialer(m.ctx, peerID)
		if err == nil {
			m.adopt(peerID, conn, true)
			return
		}

		m.emitError(peerID, err)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}

		m.mu.Lock()
		abandoned := m.closed || m.links[peerID] != nil || m.dropped[peerID]
		m.mu.Unlock()
		if abandoned {
			return
		}
	}
	m.logger.Printf("[mesh] giving up on %s after %d attempts", peerID, reconnectAttempts)
}

// Adopt registers an inbound connection accepted by the mesh HTTP handler.
// When a link to that peer already exists the newcomer is closed and the
// established link kept.
func (m *Manager) Adopt(peerID string, conn *websocket.Conn) {
	m.adopt(peerID, conn, false)
}

func (m *Manager) adopt(peerID string, conn *websocket.Conn, originated bool) {
	m.mu.Lock()
	if m.closed || m.links[peerID] != nil {
		m.mu.Unlock()
		conn.Close()
		return
	}
	link := newLink(peerID, conn)
	m.links[peerID] = link
	m.originated[peerID] = originated
	delete(m.dropped, peerID)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	go m.readLoop(link)
	go m.pingLoop(link)

	for _, l := range listeners {
		if l.PeerConnected != nil {
			l.PeerConnected(peerID)
		}
	}
}

// Disconnect tears down and removes the link to the named peer.
func (m *Manager) Disconnect(peerID string) {
	m.mu.Lock()
	link := m.links[peerID]
	delete(m.links, peerID)
	m.dropped[peerID] = true
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if link == nil {
		return
	}
	link.markClosed()
	for _, l := range listeners {
		if l.PeerDisconnected != nil {
			l.PeerDisconnected(peerID)
		}
	}
}

// Broadcast sends the payload to every currently-connected link and returns
// the number of successful sends. Failed sends are not retried.
func (m *Manager) Broadcast(payload []byte) int {
	sent := 0
	for _, link := range m.snapshotLinks() {
		if link.Send(payload) {
			sent++
		}
	}
	return sent
}

// SendTo sends the payload to one peer. Returns false when no connected link
// exists or the write fails.
func (m *Manager) SendTo(peerID string, payload []byte) bool {
	m.mu.Lock()
	link := m.links[peerID]
	m.mu.Unlock()
	if link == nil {
		return false
	}
	return link.Send(payload)
}

// ConnectedPeers returns the ids of peers with a live link, sorted for
// stable enumeration.
func (m *Manager) ConnectedPeers() []string {
	m.mu.Lock()
	peers := make([]string, 0, len(m.links))
	for id, link := range m.links {
		if link.Connected() {
			peers = append(peers, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(peers)
	return peers
}

// PeerRTTs reports the last measured ping round trip per connected peer.
// Peers without a completed ping cycle yet report zero.
func (m *Manager) PeerRTTs() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	rtts := make(map[string]time.Duration, len(m.links))
	for id, link := range m.links {
		if link.Connected() {
			rtts[id] = link.RTT()
		}
	}
	return rtts
}

// Close tears down every link and stops all reconnect attempts.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := make([]*Link, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	m.cancel()
	for _, link := range links {
		link.markClosed()
	}
}

func (m *Manager) readLoop(link *Link) {
	conn := link.conn
	conn.SetReadDeadline(time.Now().Add(m.pongWait))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(m.pongWait))
		link.recordPong(appData)
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.dropLink(link, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.pongWait))

		m.mu.Lock()
		listeners := m.listenersLocked()
		m.mu.Unlock()
		for _, l := range listeners {
			if l.Data != nil {
				l.Data(link.peerID, payload)
			}
		}
	}
}

func (m *Manager) pingLoop(link *Link) {
	ticker := time.NewTicker(m.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-link.done:
			return
		case <-ticker.C:
			if !link.ping() {
				return
			}
		}
	}
}

func (m *Manager) dropLink(link *Link, err error) {
	link.markClosed()

	m.mu.Lock()
	current, ok := m.links[link.peerID]
	if !ok || current != link {
		m.mu.Unlock()
		return
	}
	delete(m.links, link.peerID)
	closed := m.closed
	explicit := m.dropped[link.peerID]
	redial := !closed && !explicit && m.originated[link.peerID]
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if closed {
		return
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		for _, l := range listeners {
			if l.PeerError != nil {
				l.PeerError(link.peerID, err)
			}
		}
	}
	for _, l := range listeners {
		if l.PeerDisconnected != nil {
			l.PeerDisconnected(link.peerID)
		}
	}

	if redial {
		m.ConnectTo(link.peerID)
	}
}

func (m *Manager) snapshotLinks() []*Link {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()
	sort.Slice(links, func(i, j int) bool { return links[i].peerID < links[j].peerID })
	return links
}

func (m *Manager) listenersLocked() []Events {
	out := make([]Events, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *Manager) emitError(peerID string, err error) {
	m.mu.Lock()
	listeners := m.listenersLocked()
	m.mu.Unlock()
	for _, l := range listeners {
		if l.PeerError != nil {
			l.PeerError(peerID, err)
		}
	}
}
