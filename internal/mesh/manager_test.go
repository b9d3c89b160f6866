package mesh

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testPeer struct {
	id      string
	manager *Manager
	server  *httptest.Server

	mu        sync.Mutex
	received  []string
	connected []string
	dropped   []string
}

// startPeer runs a manager behind a live mesh endpoint. The shared address
// book lets each peer's dialer find the others.
func startPeer(t *testing.T, id string, book map[string]string) *testPeer {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	p := &testPeer{id: id}

	dialer := func(ctx context.Context, peerID string) (*websocket.Conn, error) {
		addr, ok := book[peerID]
		if !ok {
			return nil, fmt.Errorf("no address for %s", peerID)
		}
		url := "ws" + strings.TrimPrefix(addr, "http") + "/mesh?from=" + id
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if resp != nil {
			resp.Body.Close()
		}
		return conn, err
	}

	p.manager = NewManager(id, dialer, logger)
	p.manager.AddListener(Events{
		PeerConnected: func(peerID string) {
			p.mu.Lock()
			p.connected = append(p.connected, peerID)
			p.mu.Unlock()
		},
		PeerDisconnected: func(peerID string) {
			p.mu.Lock()
			p.dropped = append(p.dropped, peerID)
			p.mu.Unlock()
		},
		Data: func(peerID string, payload []byte) {
			p.mu.Lock()
			p.received = append(p.received, peerID+":"+string(payload))
			p.mu.Unlock()
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", NewHandler(p.manager, logger).Handle)
	p.server = httptest.NewServer(mux)
	book[id] = p.server.URL

	t.Cleanup(func() {
		p.manager.Close()
		p.server.Close()
	})
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (p *testPeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.received))
	copy(out, p.received)
	return out
}

func TestDialEstablishesBidirectionalLink(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	b := startPeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	waitFor(t, "alice to see bob", func() bool {
		peers := a.manager.ConnectedPeers()
		return len(peers) == 1 && peers[0] == "bob"
	})
	waitFor(t, "bob to see alice", func() bool {
		peers := b.manager.ConnectedPeers()
		return len(peers) == 1 && peers[0] == "alice"
	})

	if !a.manager.SendTo("bob", []byte("ping-from-alice")) {
		t.Fatalf("SendTo over live link failed")
	}
	waitFor(t, "bob to receive", func() bool {
		msgs := b.messages()
		return len(msgs) == 1 && msgs[0] == "alice:ping-from-alice"
	})

	if !b.manager.SendTo("alice", []byte("pong-from-bob")) {
		t.Fatalf("reverse SendTo failed")
	}
	waitFor(t, "alice to receive", func() bool {
		msgs := a.messages()
		return len(msgs) == 1 && msgs[0] == "bob:pong-from-bob"
	})
}

func TestConnectToIsIdempotent(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	startPeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	a.manager.ConnectTo("bob")
	a.manager.ConnectTo("alice") // self link is refused outright

	waitFor(t, "link to bob", func() bool {
		return len(a.manager.ConnectedPeers()) > 0
	})
	time.Sleep(100 * time.Millisecond)
	if peers := a.manager.ConnectedPeers(); len(peers) != 1 {
		t.Fatalf("duplicate ConnectTo produced %d links", len(peers))
	}

	a.mu.Lock()
	events := len(a.connected)
	a.mu.Unlock()
	if events != 1 {
		t.Fatalf("PeerConnected fired %d times, want 1", events)
	}
}

func TestBroadcastReachesEveryLinkAndCounts(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	b := startPeer(t, "bob", book)
	c := startPeer(t, "carol", book)

	a.manager.ConnectTo("bob")
	a.manager.ConnectTo("carol")
	waitFor(t, "two links", func() bool {
		return len(a.manager.ConnectedPeers()) == 2
	})

	if sent := a.manager.Broadcast([]byte("hello-mesh")); sent != 2 {
		t.Fatalf("broadcast reported %d sends, want 2", sent)
	}
	waitFor(t, "bob and carol to receive", func() bool {
		return len(b.messages()) == 1 && len(c.messages()) == 1
	})
}

func TestSendToUnknownPeer(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	if a.manager.SendTo("nobody", []byte("x")) {
		t.Fatalf("SendTo succeeded with no link")
	}
	if sent := a.manager.Broadcast([]byte("x")); sent != 0 {
		t.Fatalf("broadcast on empty mesh reported %d sends", sent)
	}
}

func TestDisconnectRemovesLinkWithoutRedial(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	startPeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	waitFor(t, "link up", func() bool {
		return len(a.manager.ConnectedPeers()) == 1
	})

	a.manager.Disconnect("bob")
	waitFor(t, "disconnect event", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.dropped) >= 1 && a.dropped[0] == "bob"
	})
	if len(a.manager.ConnectedPeers()) != 0 {
		t.Fatalf("peer still listed after Disconnect")
	}

	// An explicit disconnect must stay down; give a would-be redial time to
	// show itself.
	time.Sleep(200 * time.Millisecond)
	if len(a.manager.ConnectedPeers()) != 0 {
		t.Fatalf("manager redialed an explicitly disconnected peer")
	}
}

func TestOriginatorRedialsAfterRemoteDrop(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	b := startPeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	waitFor(t, "link up", func() bool {
		return len(a.manager.ConnectedPeers()) == 1
	})

	// Bob drops the link abnormally; alice originated it, so she redials.
	b.manager.Disconnect("alice")
	waitFor(t, "alice to notice the drop", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.dropped) >= 1
	})
	waitFor(t, "alice to re-link", func() bool {
		peers := a.manager.ConnectedPeers()
		return len(peers) == 1 && peers[0] == "bob"
	})
}

func TestHeartbeatTimeoutDropsSilentPeerOnce(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	manager := NewManager("alice", nil, logger)
	manager.pingEvery = 20 * time.Millisecond
	manager.pongWait = 60 * time.Millisecond
	t.Cleanup(manager.Close)

	var mu sync.Mutex
	var connected, dropped int
	manager.AddListener(Events{
		PeerConnected: func(string) {
			mu.Lock()
			connected++
			mu.Unlock()
		},
		PeerDisconnected: func(string) {
			mu.Lock()
			dropped++
			mu.Unlock()
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", NewHandler(manager, logger).Handle)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	// A peer that upgrades and then goes silent: it never reads, so it never
	// answers pings and the read deadline on our side lapses.
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/mesh?from=ghost"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, "link adoption", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected == 1
	})
	waitFor(t, "heartbeat timeout", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dropped == 1
	})
	if len(manager.ConnectedPeers()) != 0 {
		t.Fatalf("timed-out peer still listed")
	}

	// The inbound link is gone for good: no redial, and the ping-failure and
	// read-deadline paths must not double-report the same drop.
	time.Sleep(5 * manager.pongWait)
	mu.Lock()
	defer mu.Unlock()
	if dropped != 1 {
		t.Fatalf("PeerDisconnected fired %d times, want exactly 1", dropped)
	}
	if connected != 1 {
		t.Fatalf("silent peer was re-adopted")
	}
}

func TestHandlerRejectsAnonymousAndSelfLinks(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)

	resp, err := http.Get(a.server.URL + "/mesh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing from: status %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(a.server.URL + "/mesh?from=alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self link: status %d, want 400", resp.StatusCode)
	}
}

func TestCloseTearsDownAllLinks(t *testing.T) {
	book := make(map[string]string)
	a := startPeer(t, "alice", book)
	b := startPeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	waitFor(t, "link up", func() bool {
		return len(b.manager.ConnectedPeers()) == 1
	})

	a.manager.Close()
	waitFor(t, "bob to see the drop", func() bool {
		return len(b.manager.ConnectedPeers()) == 0
	})
	if len(a.manager.ConnectedPeers()) != 0 {
		t.Fatalf("links survived Close")
	}

	a.manager.ConnectTo("bob")
	time.Sleep(100 * time.Millisecond)
	if len(a.manager.ConnectedPeers()) != 0 {
		t.Fatalf("closed manager accepted a new dial")
	}
}
