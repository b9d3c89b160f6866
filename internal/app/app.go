package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	core "meshdeck/core"
	"meshdeck/core/internal/game"
	"meshdeck/core/internal/mesh"
	"meshdeck/core/internal/signal"
)

// helloPayload is the opaque blob relayed through the signaling channel to
// exchange mesh addresses. The relay never inspects it.
type helloPayload struct {
	Addr string `json:"addr"`
}

// addressBook maps peer ids to the mesh addresses learned over signaling.
type addressBook struct {
	mu    sync.Mutex
	addrs map[string]string
}

func newAddressBook() *addressBook {
	return &addressBook{addrs: make(map[string]string)}
}

func (b *addressBook) set(peerID, addr string) {
	b.mu.Lock()
	b.addrs[peerID] = addr
	b.mu.Unlock()
}

func (b *addressBook) get(peerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.addrs[peerID]
	return addr, ok
}

// Peer bundles one running replica: its session, mesh listener, signaling
// client, and diagnostics endpoint.
type Peer struct {
	Session *core.Session

	cfg      Config
	logger   *log.Logger
	mesh     *mesh.Manager
	relay    *signal.Client
	book     *addressBook
	listener net.Listener
	server   *http.Server
}

// Start brings one peer up: it binds the mesh listener, joins the relay,
// announces its address, and begins consistency checks. Seats come from the
// roster in config order; decks are supplied per seat id.
func Start(ctx context.Context, cfg Config, decks map[string][]game.Card, logger *log.Logger) (*Peer, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PeerID == "" {
		return nil, fmt.Errorf("start peer: MESHDECK_PEER_ID is required")
	}

	entries, err := ParseRoster(cfg.Roster)
	if err != nil {
		return nil, err
	}
	roster := make([]game.Seat, len(entries))
	for i, entry := range entries {
		roster[i] = game.Seat{ID: entry.ID, Name: entry.Name, Deck: decks[entry.ID]}
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind mesh listener: %w", err)
	}
	advertised := listener.Addr().String()

	book := newAddressBook()
	dialer := func(ctx context.Context, peerID string) (*websocket.Conn, error) {
		addr, ok := book.get(peerID)
		if !ok {
			return nil, fmt.Errorf("no known address for %s", peerID)
		}
		url := fmt.Sprintf("ws://%s/mesh?from=%s", addr, cfg.PeerID)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		return conn, err
	}

	meshMgr := mesh.NewManager(cfg.PeerID, dialer, logger)

	session, err := core.NewSession(core.SessionConfig{
		SessionID:         cfg.SessionID,
		SelfID:            cfg.PeerID,
		Roster:            roster,
		StartingLife:      cfg.StartingLife,
		HistoryDepth:      cfg.HistoryDepth,
		PendingTTL:        cfg.PendingTTL,
		ReconcileInterval: cfg.ReconcileInterval,
		Mesh:              meshMgr,
		Logger:            logger,
	})
	if err != nil {
		listener.Close()
		return nil, err
	}

	peer := &Peer{
		Session:  session,
		cfg:      cfg,
		logger:   logger,
		mesh:     meshMgr,
		book:     book,
		listener: listener,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", mesh.NewHandler(meshMgr, logger).Handle)
	mux.HandleFunc("/diagnostics", peer.handleDiagnostics)
	peer.server = &http.Server{Handler: mux}
	go func() {
		if err := peer.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Printf("[app] mesh server failed: %v", err)
		}
	}()

	hello, err := json.Marshal(helloPayload{Addr: advertised})
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("marshal hello: %w", err)
	}

	// Roster notifications can arrive before Dial returns; hold them until
	// the relay handle is in place.
	relayReady := make(chan struct{})
	relay, err := signal.Dial(cfg.RelayURL, cfg.PeerID, signal.Handlers{
		Joined: func(peerID string) {
			<-relayReady
			// Introduce ourselves; the dial decision happens once the
			// counterpart's hello arrives.
			if err := peer.relaySend(peerID, hello); err != nil {
				logger.Printf("[app] hello to %s failed: %v", peerID, err)
			}
		},
		Signal: func(from string, payload json.RawMessage) {
			<-relayReady
			var msg helloPayload
			if err := json.Unmarshal(payload, &msg); err != nil || msg.Addr == "" {
				logger.Printf("[app] ignoring malformed signal from %s", from)
				return
			}
			_, known := book.get(from)
			book.set(from, msg.Addr)
			if !known {
				if err := peer.relaySend(from, hello); err != nil {
					logger.Printf("[app] hello reply to %s failed: %v", from, err)
				}
			}
			// Exactly one side dials so the pair never races to two links.
			if cfg.PeerID < from {
				meshMgr.ConnectTo(from)
			}
		},
		Left: func(peerID string) {
			meshMgr.Disconnect(peerID)
		},
	}, logger)
	if err != nil {
		peer.Close()
		return nil, err
	}
	peer.relay = relay
	close(relayReady)

	session.StartConsistencyChecks()
	logger.Printf("[app] peer %s up, mesh on %s, relay %s", cfg.PeerID, advertised, cfg.RelayURL)
	return peer, nil
}

// Addr returns the bound mesh address.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

func (p *Peer) relaySend(to string, payload json.RawMessage) error {
	if p.relay == nil {
		return nil
	}
	return p.relay.Send(to, payload)
}

type diagnosticsResponse struct {
	PeerID         string                 `json:"peerId"`
	ConnectedPeers []string               `json:"connectedPeers"`
	PeerRTTMillis  map[string]int64       `json:"peerRttMillis"`
	PendingActions int                    `json:"pendingActions"`
	StateVersion   uint64                 `json:"stateVersion"`
	Telemetry      core.TelemetrySnapshot `json:"telemetry"`
}

func (p *Peer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	rtts := make(map[string]int64)
	for id, rtt := range p.mesh.PeerRTTs() {
		rtts[id] = rtt.Milliseconds()
	}
	resp := diagnosticsResponse{
		PeerID:         p.cfg.PeerID,
		ConnectedPeers: p.Session.ConnectedPeers(),
		PeerRTTMillis:  rtts,
		PendingActions: p.Session.PendingActions(),
		StateVersion:   p.Session.State().Version,
		Telemetry:      p.Session.Telemetry(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		p.logger.Printf("[app] failed to encode diagnostics: %v", err)
	}
}

// Close tears the peer down: relay first so remotes see the leave, then the
// session (which owns the mesh), then the HTTP listener.
func (p *Peer) Close() {
	if p.relay != nil {
		p.relay.Close()
	}
	if p.Session != nil {
		p.Session.Close()
	}
	if p.server != nil {
		p.server.Close()
	}
}
