package consensus

import (
	"errors"
	"log"
	"sync"
	"time"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/game"
	"meshdeck/core/internal/proto"
	"meshdeck/core/internal/store"
)

const (
	// DefaultPendingTTL bounds how long an unresolved action is tracked.
	// An entry that never reaches quorum is dropped and the local state
	// stands; only an actual majority-reject rolls back.
	DefaultPendingTTL = 10 * time.Second
	// DefaultReconcileInterval is the anti-entropy hash broadcast cadence.
	DefaultReconcileInterval = 5 * time.Second

	sweepInterval = time.Second
	seenRetention = time.Minute
)

// Transport is the slice of the mesh the coordinator depends on.
type Transport interface {
	Broadcast(payload []byte) int
	SendTo(peerID string, payload []byte) bool
	ConnectedPeers() []string
}

// Telemetry receives protocol counters. All methods must be safe for
// concurrent use.
type Telemetry interface {
	RecordProposal()
	RecordCommit()
	RecordRollback()
	RecordExpired()
	RecordHashCheck(mismatch bool)
	RecordResync()
	RecordBroadcast(bytes, peers int)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordProposal()          {}
func (noopTelemetry) RecordCommit()            {}
func (noopTelemetry) RecordRollback()          {}
func (noopTelemetry) RecordExpired()           {}
func (noopTelemetry) RecordHashCheck(bool)     {}
func (noopTelemetry) RecordResync()            {}
func (noopTelemetry) RecordBroadcast(int, int) {}

type pendingAction struct {
	action    actions.Action
	votes     map[string]bool
	createdAt time.Time
}

// Config wires a coordinator's collaborators.
type Config struct {
	SelfID            string
	Store             *store.Store
	Transport         Transport
	Logger            *log.Logger
	Telemetry         Telemetry
	PendingTTL        time.Duration
	ReconcileInterval time.Duration
	Clock             func() time.Time
}

// Coordinator runs the majority-consensus protocol for one session: it
// applies local actions optimistically, broadcasts them, tallies peer votes,
// rolls back on majority rejection, and heals silent divergence with
// periodic hash reconciliation. Every entry point serializes on one mutex,
// so each message is processed to completion before the next.
type Coordinator struct {
	selfID    string
	store     *store.Store
	transport Transport
	logger    *log.Logger
	telemetry Telemetry

	mu      sync.Mutex
	pending map[string]*pendingAction
	seen    map[string]time.Time

	pendingTTL     time.Duration
	reconcileEvery time.Duration
	now            func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New constructs a coordinator. Store and Transport are required.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	reconcile := cfg.ReconcileInterval
	if reconcile <= 0 {
		reconcile = DefaultReconcileInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		selfID:         cfg.SelfID,
		store:          cfg.Store,
		transport:      cfg.Transport,
		logger:         logger,
		telemetry:      telemetry,
		pending:        make(map[string]*pendingAction),
		seen:           make(map[string]time.Time),
		pendingTTL:     ttl,
		reconcileEvery: reconcile,
		now:            clock,
		stop:           make(chan struct{}),
	}
}

// Propose applies a locally-originated action optimistically and broadcasts
// it for voting. The state change is visible immediately; a later majority
// rejection reverts it. A validation failure returns the reason and sends
// nothing.
func (c *Coordinator) Propose(action actions.Action) (actions.Action, error) {
	prepared := actions.Prepare(action)

	c.mu.Lock()
	if _, dup := c.pending[prepared.ID]; dup {
		c.mu.Unlock()
		return prepared, nil
	}
	if _, dup := c.seen[prepared.ID]; dup {
		c.mu.Unlock()
		return prepared, nil
	}

	next, err := actions.Apply(c.store.Current(), prepared)
	if err != nil {
		c.mu.Unlock()
		return prepared, err
	}

	c.store.Commit(next, prepared)
	c.pending[prepared.ID] = &pendingAction{
		action:    prepared,
		votes:     map[string]bool{c.selfID: true},
		createdAt: c.now(),
	}
	c.telemetry.RecordProposal()
	c.resolveLocked(prepared.ID)
	c.mu.Unlock()

	c.broadcastAction(prepared)
	return prepared, nil
}

// HandleData routes one raw mesh payload from a peer.
func (c *Coordinator) HandleData(peerID string, payload []byte) {
	msg, err := proto.Decode(payload)
	if err != nil {
		c.logger.Printf("[consensus] discarding payload from %s: %v", peerID, err)
		return
	}
	switch m := msg.(type) {
	case *proto.GameActionMessage:
		c.handlePeerAction(peerID, m.Action)
	case *proto.ActionVoteMessage:
		c.AddVote(peerID, m.ActionID, m.Approved)
	case *proto.StateHashMessage:
		c.handleHashCheck(peerID, m.StateHash)
	case *proto.RequestFullStateMessage:
		c.sendFullState(peerID)
	case *proto.GameStateMessage:
		c.handleFullState(peerID, m.State)
	}
}

// PeerConnected proactively pushes the full current state to a newly linked
// peer so late joiners converge without waiting for a hash cycle.
func (c *Coordinator) PeerConnected(peerID string) {
	c.sendFullState(peerID)
}

// PeerDisconnected re-tallies every pending action: the vote-threshold
// denominator shrank, so entries may now resolve.
func (c *Coordinator) PeerDisconnected(peerID string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	for _, id := range ids {
		c.resolveLocked(id)
	}
	c.mu.Unlock()
}

// AddVote records one peer's verdict on a pending action and re-tallies.
// Votes for unknown or already-resolved actions are dropped.
func (c *Coordinator) AddVote(peerID, actionID string, approved bool) {
	c.mu.Lock()
	p := c.pending[actionID]
	if p == nil {
		c.mu.Unlock()
		return
	}
	p.votes[peerID] = approved
	c.resolveLocked(actionID)
	c.mu.Unlock()
}

// PendingCount reports the number of in-flight actions.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Start launches the periodic hash broadcast and the pending-TTL sweep.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.reconcileLoop()
	go c.sweepLoop()
}

// Stop cancels the recurring timers. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) handlePeerAction(from string, action actions.Action) {
	c.mu.Lock()
	if p := c.pending[action.ID]; p != nil {
		// Duplicate broadcast: the sender evidently has the action.
		p.votes[from] = true
		c.resolveLocked(action.ID)
		c.mu.Unlock()
		return
	}
	if _, resolved := c.seen[action.ID]; resolved {
		c.mu.Unlock()
		return
	}

	next, err := actions.Apply(c.store.Current(), action)
	approved := err == nil
	if approved {
		c.store.Commit(next, action)
		c.pending[action.ID] = &pendingAction{
			action:    action,
			votes:     map[string]bool{c.selfID: true, from: true},
			createdAt: c.now(),
		}
	} else {
		c.logger.Printf("[consensus] rejecting %s %s from %s: %v", action.Kind, action.ID, from, err)
	}
	c.mu.Unlock()

	if data, err := proto.EncodeActionVote(action.ID, approved); err == nil {
		peers := c.transport.Broadcast(data)
		c.telemetry.RecordBroadcast(len(data), peers)
	}

	if approved {
		c.mu.Lock()
		c.resolveLocked(action.ID)
		c.mu.Unlock()
	}
}

// resolveLocked re-tallies one pending action and finalizes it once the vote
// count reaches the consensus threshold: half of the currently-connected
// mesh plus self. Majority approval simply drops the entry (the optimistic
// mutation already happened); majority rejection rolls the action back.
func (c *Coordinator) resolveLocked(actionID string) {
	p := c.pending[actionID]
	if p == nil {
		return
	}

	approved, rejected := 0, 0
	for _, v := range p.votes {
		if v {
			approved++
		} else {
			rejected++
		}
	}
	threshold := float64(len(c.transport.ConnectedPeers())+1) * 0.5
	if float64(approved+rejected) < threshold {
		return
	}

	delete(c.pending, actionID)
	c.seen[actionID] = c.now()

	if approved > rejected {
		c.telemetry.RecordCommit()
		return
	}

	c.logger.Printf("[consensus] rolling back %s %s (%d-%d)", p.action.Kind, actionID, rejected, approved)
	if err := c.store.Rollback(actionID); err != nil {
		if errors.Is(err, store.ErrActionNotLogged) {
			// Never applied locally (we voted reject); nothing to undo.
			return
		}
		c.logger.Printf("[consensus] rollback of %s failed: %v", actionID, err)
		return
	}
	c.telemetry.RecordRollback()
}

func (c *Coordinator) handleHashCheck(from, hash string) {
	local := c.store.Current().Digest()
	mismatch := local != hash
	c.telemetry.RecordHashCheck(mismatch)
	if !mismatch {
		return
	}
	c.logger.Printf("[consensus] state hash mismatch with %s, requesting full state", from)
	if data, err := proto.EncodeRequestFullState(); err == nil {
		c.transport.SendTo(from, data)
	}
}

func (c *Coordinator) sendFullState(peerID string) {
	data, err := proto.EncodeGameState(c.store.Current())
	if err != nil {
		c.logger.Printf("[consensus] failed to encode full state for %s: %v", peerID, err)
		return
	}
	c.transport.SendTo(peerID, data)
}

// handleFullState adopts a peer's snapshot only when it is strictly newer
// than the local one. A same-or-lower version never replaces local state, so
// an already-superseded peer cannot overwrite fresher progress.
func (c *Coordinator) handleFullState(from string, state *game.State) {
	if state == nil {
		return
	}

	c.mu.Lock()
	local := c.store.Current()
	if state.ID != local.ID || state.Version <= local.Version {
		c.mu.Unlock()
		return
	}
	c.logger.Printf("[consensus] adopting state v%d from %s (local v%d)", state.Version, from, local.Version)
	c.store.Replace(state)
	// Pending entries tallied against the old lineage cannot be rolled
	// back out of the adopted snapshot.
	c.pending = make(map[string]*pendingAction)
	c.mu.Unlock()

	c.telemetry.RecordResync()
}

func (c *Coordinator) broadcastAction(action actions.Action) {
	data, err := proto.EncodeGameAction(action)
	if err != nil {
		c.logger.Printf("[consensus] failed to encode action %s: %v", action.ID, err)
		return
	}
	peers := c.transport.Broadcast(data)
	c.telemetry.RecordBroadcast(len(data), peers)
}

func (c *Coordinator) broadcastHash() {
	data, err := proto.EncodeStateHash(c.store.Current().Digest())
	if err != nil {
		c.logger.Printf("[consensus] failed to encode state hash: %v", err)
		return
	}
	peers := c.transport.Broadcast(data)
	c.telemetry.RecordBroadcast(len(data), peers)
}

func (c *Coordinator) reconcileLoop() {
	ticker := time.NewTicker(c.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.broadcastHash()
		}
	}
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

// sweepExpired drops pending entries older than the TTL. The locally-applied
// state stands: lack of quorum is not a rejection. Resolved-action ids are
// also aged out once duplicates can no longer plausibly arrive.
func (c *Coordinator) sweepExpired() {
	now := c.now()
	c.mu.Lock()
	for id, p := range c.pending {
		if now.Sub(p.createdAt) >= c.pendingTTL {
			delete(c.pending, id)
			c.seen[id] = now
			c.telemetry.RecordExpired()
			c.logger.Printf("[consensus] pending action %s expired unresolved, state stands", id)
		}
	}
	for id, resolvedAt := range c.seen {
		if now.Sub(resolvedAt) >= seenRetention {
			delete(c.seen, id)
		}
	}
	c.mu.Unlock()
}
