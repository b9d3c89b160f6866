package core

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

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/game"
	"meshdeck/core/internal/mesh"
)

func testRoster() []game.Seat {
	deck := func(prefix string) []game.Card {
		cards := make([]game.Card, 10)
		for i := range cards {
			cards[i] = game.Card{ID: fmt.Sprintf("%s-%d", prefix, i), Name: "Card"}
		}
		return cards
	}
	return []game.Seat{
		{ID: "alice", Name: "Alice", Deck: deck("a")},
		{ID: "bob", Name: "Bob", Deck: deck("b")},
	}
}

// livePeer is one session running behind a real mesh endpoint.
type livePeer struct {
	session *Session
	manager *mesh.Manager
	server  *httptest.Server
}

func startLivePeer(t *testing.T, id string, book map[string]string) *livePeer {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

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

	manager := mesh.NewManager(id, dialer, logger)
	session, err := NewSession(SessionConfig{
		SessionID: "live-test",
		SelfID:    id,
		Roster:    testRoster(),
		Mesh:      manager,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("new session for %s: %v", id, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", mesh.NewHandler(manager, logger).Handle)
	server := httptest.NewServer(mux)
	book[id] = server.URL

	p := &livePeer{session: session, manager: manager, server: server}
	t.Cleanup(func() {
		session.Close()
		server.Close()
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

func TestNewSessionValidation(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	manager := mesh.NewManager("alice", nil, logger)
	defer manager.Close()

	if _, err := NewSession(SessionConfig{SelfID: "alice", Roster: testRoster()}); err == nil {
		t.Fatalf("missing mesh accepted")
	}
	if _, err := NewSession(SessionConfig{Mesh: manager, Roster: testRoster()}); err == nil {
		t.Fatalf("missing self id accepted")
	}
	if _, err := NewSession(SessionConfig{Mesh: manager, SelfID: "mallory", Roster: testRoster()}); err == nil {
		t.Fatalf("self id outside roster accepted")
	}
}

func TestSessionInitialState(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	manager := mesh.NewManager("alice", nil, logger)
	defer manager.Close()

	session, err := NewSession(SessionConfig{
		SessionID: "s1",
		SelfID:    "alice",
		Roster:    testRoster(),
		Mesh:      manager,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()

	state := session.State()
	if state.ID != "s1" || state.Version != 0 || state.TurnNumber != 1 {
		t.Fatalf("initial state: %+v", state)
	}
	if state.ActivePlayerID != "alice" || state.Phase != game.PhaseUntap {
		t.Fatalf("opening turn: active=%s phase=%s", state.ActivePlayerID, state.Phase)
	}
	for _, player := range state.Players {
		if player.Life != game.DefaultStartingLife || len(player.Library) != 10 {
			t.Fatalf("seat %s: life=%d library=%d", player.ID, player.Life, len(player.Library))
		}
	}
}

func TestApplyStampsSourceAndNotifiesSubscribers(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	manager := mesh.NewManager("alice", nil, logger)
	defer manager.Close()

	session, err := NewSession(SessionConfig{
		SelfID: "alice",
		Roster: testRoster(),
		Mesh:   manager,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()

	var mu sync.Mutex
	var seen []*game.State
	unsubscribe := session.Subscribe(func(state *game.State) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := session.Apply(actions.Action{
		Kind: actions.KindDrawCard,
		Draw: &actions.DrawCard{PlayerID: "alice", Count: 3},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	state := session.State()
	if got := len(state.Player("alice").Hand); got != 3 {
		t.Fatalf("hand = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("subscriber notices = %d, want 1", len(seen))
	}
	entries := session.store.Log()
	if len(entries) != 1 || entries[0].Action.SourcePlayer != "alice" {
		t.Fatalf("source player not stamped: %+v", entries)
	}
}

func TestApplyValidationErrorLeavesStateAlone(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	manager := mesh.NewManager("alice", nil, logger)
	defer manager.Close()

	session, err := NewSession(SessionConfig{
		SelfID: "alice",
		Roster: testRoster(),
		Mesh:   manager,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()

	err = session.Apply(actions.Action{
		Kind: actions.KindDrawCard,
		Draw: &actions.DrawCard{PlayerID: "alice", Count: 99},
	})
	if err == nil {
		t.Fatalf("oversized draw accepted")
	}
	if session.State().Version != 0 || session.PendingActions() != 0 {
		t.Fatalf("failed apply left residue")
	}
}

func TestTwoLiveSessionsConverge(t *testing.T) {
	book := make(map[string]string)
	a := startLivePeer(t, "alice", book)
	b := startLivePeer(t, "bob", book)

	a.manager.ConnectTo("bob")
	waitFor(t, "mesh link", func() bool {
		return len(a.session.ConnectedPeers()) == 1 && len(b.session.ConnectedPeers()) == 1
	})

	if err := a.session.Apply(actions.Action{
		Kind: actions.KindUpdateLife,
		Life: &actions.UpdateLife{PlayerID: "alice", Delta: -7},
	}); err != nil {
		t.Fatalf("alice apply: %v", err)
	}
	if err := b.session.Apply(actions.Action{
		Kind: actions.KindDrawCard,
		Draw: &actions.DrawCard{PlayerID: "bob", Count: 2},
	}); err != nil {
		t.Fatalf("bob apply: %v", err)
	}

	waitFor(t, "replica convergence", func() bool {
		return a.session.State().Digest() == b.session.State().Digest() &&
			a.session.State().Version == 2
	})
	if life := b.session.State().Player("alice").Life; life != 33 {
		t.Fatalf("bob's replica missed the life change: %d", life)
	}
	if hand := len(a.session.State().Player("bob").Hand); hand != 2 {
		t.Fatalf("alice's replica missed the draw: %d", hand)
	}

	telemetry := a.session.Telemetry()
	if telemetry.ActionsProposed != 1 || telemetry.ActionsCommitted < 1 {
		t.Fatalf("telemetry: %+v", telemetry)
	}
}

func TestLateJoinerBootstrapsFromConnectedPeer(t *testing.T) {
	book := make(map[string]string)
	a := startLivePeer(t, "alice", book)

	// Alice makes progress alone.
	for i := 0; i < 3; i++ {
		if err := a.session.Apply(actions.Action{
			Kind: actions.KindUpdateLife,
			Life: &actions.UpdateLife{PlayerID: "alice", Delta: -1},
		}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	b := startLivePeer(t, "bob", book)
	a.manager.ConnectTo("bob")

	// The connect hook pushes a full snapshot; bob adopts the newer state.
	waitFor(t, "late joiner to catch up", func() bool {
		state := b.session.State()
		return state.Version == 3 && state.Player("alice").Life == 37
	})
}
