// Package core ties the replicated card-table engine together: it owns the
// state store, the consensus coordinator, and their wiring onto a peer mesh,
// and exposes the surface the UI layer consumes.
package core

import (
	"fmt"
	"log"
	"time"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/consensus"
	"meshdeck/core/internal/game"
	"meshdeck/core/internal/mesh"
	"meshdeck/core/internal/store"
)

// SessionConfig describes one local replica of a game session.
type SessionConfig struct {
	// SessionID is shared by every participant; empty mints a fresh one.
	SessionID string
	// SelfID is this participant's seat id. Must appear in Roster.
	SelfID string
	// Roster lists every seat in turn order, identical on all peers.
	Roster []game.Seat
	// StartingLife defaults to game.DefaultStartingLife.
	StartingLife int
	// HistoryDepth bounds the rollback window (default 20 snapshots).
	HistoryDepth int
	// PendingTTL and ReconcileInterval tune the consensus timers.
	PendingTTL        time.Duration
	ReconcileInterval time.Duration

	Mesh   *mesh.Manager
	Logger *log.Logger
}

// Session is one peer's replica of a running game. All mutation flows
// through Apply; reads come from State or the listener feed.
type Session struct {
	selfID    string
	store     *store.Store
	coord     *consensus.Coordinator
	mesh      *mesh.Manager
	telemetry *telemetryCounters
	logger    *log.Logger
}

// NewSession builds the initial game state for the roster and wires the
// consensus coordinator onto the mesh. The session starts passive; call
// StartConsistencyChecks to launch the anti-entropy and TTL timers.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Mesh == nil {
		return nil, fmt.Errorf("new session: mesh manager is required")
	}
	if cfg.SelfID == "" {
		return nil, fmt.Errorf("new session: self id is required")
	}
	found := false
	for _, seat := range cfg.Roster {
		if seat.ID == cfg.SelfID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("new session: self id %q not in roster", cfg.SelfID)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	state, err := game.NewState(cfg.SessionID, cfg.Roster, cfg.StartingLife)
	if err != nil {
		return nil, err
	}

	st := store.New(state, cfg.HistoryDepth)
	telemetry := newTelemetryCounters()
	coord := consensus.New(consensus.Config{
		SelfID:            cfg.SelfID,
		Store:             st,
		Transport:         cfg.Mesh,
		Logger:            logger,
		Telemetry:         telemetry,
		PendingTTL:        cfg.PendingTTL,
		ReconcileInterval: cfg.ReconcileInterval,
	})

	session := &Session{
		selfID:    cfg.SelfID,
		store:     st,
		coord:     coord,
		mesh:      cfg.Mesh,
		telemetry: telemetry,
		logger:    logger,
	}

	cfg.Mesh.AddListener(mesh.Events{
		PeerConnected:    coord.PeerConnected,
		PeerDisconnected: coord.PeerDisconnected,
		Data:             coord.HandleData,
		PeerError: func(peerID string, err error) {
			logger.Printf("[session] peer %s error: %v", peerID, err)
		},
	})

	return session, nil
}

// SelfID returns the local seat id.
func (s *Session) SelfID() string { return s.selfID }

// Apply proposes a locally-originated action. The state change is applied
// optimistically and visible immediately; a validation failure returns the
// reason and produces no network traffic.
func (s *Session) Apply(action actions.Action) error {
	action.SourcePlayer = s.selfID
	_, err := s.coord.Propose(action)
	return err
}

// State returns a deep copy of the current game state.
func (s *Session) State() *game.State {
	return s.store.Current()
}

// Subscribe registers a state-change listener fed a deep copy after every
// commit, rollback, and resync. Returns the unsubscribe function.
func (s *Session) Subscribe(fn func(*game.State)) func() {
	return s.store.Subscribe(fn)
}

// StartConsistencyChecks launches the periodic hash reconciliation and the
// pending-action TTL sweep.
func (s *Session) StartConsistencyChecks() {
	s.coord.Start()
}

// ConnectedPeers reports the peers with a live mesh link.
func (s *Session) ConnectedPeers() []string {
	return s.mesh.ConnectedPeers()
}

// PendingActions reports the number of in-flight consensus entries.
func (s *Session) PendingActions() int {
	return s.coord.PendingCount()
}

// Telemetry returns the protocol counter snapshot.
func (s *Session) Telemetry() TelemetrySnapshot {
	return s.telemetry.Snapshot()
}

// Close stops the consensus timers and tears down the mesh. The session must
// not be used afterwards.
func (s *Session) Close() {
	s.coord.Stop()
	s.mesh.Close()
}
