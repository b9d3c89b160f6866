package core

import "sync/atomic"

type telemetryCounters struct {
	actionsProposed   atomic.Uint64
	actionsCommitted  atomic.Uint64
	actionsRolledBack atomic.Uint64
	actionsExpired    atomic.Uint64
	hashChecks        atomic.Uint64
	hashMismatches    atomic.Uint64
	resyncs           atomic.Uint64
	broadcastBytes    atomic.Uint64
	broadcastSends    atomic.Uint64
}

// TelemetrySnapshot is the diagnostics view of the protocol counters.
type TelemetrySnapshot struct {
	ActionsProposed   uint64 `json:"actionsProposed"`
	ActionsCommitted  uint64 `json:"actionsCommitted"`
	ActionsRolledBack uint64 `json:"actionsRolledBack"`
	ActionsExpired    uint64 `json:"actionsExpired"`
	HashChecks        uint64 `json:"hashChecks"`
	HashMismatches    uint64 `json:"hashMismatches"`
	Resyncs           uint64 `json:"resyncs"`
	BroadcastBytes    uint64 `json:"broadcastBytes"`
	BroadcastSends    uint64 `json:"broadcastSends"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordProposal() { t.actionsProposed.Add(1) }
func (t *telemetryCounters) RecordCommit()   { t.actionsCommitted.Add(1) }
func (t *telemetryCounters) RecordRollback() { t.actionsRolledBack.Add(1) }
func (t *telemetryCounters) RecordExpired()  { t.actionsExpired.Add(1) }
func (t *telemetryCounters) RecordResync()   { t.resyncs.Add(1) }

func (t *telemetryCounters) RecordHashCheck(mismatch bool) {
	t.hashChecks.Add(1)
	if mismatch {
		t.hashMismatches.Add(1)
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, peers int) {
	if bytes > 0 {
		t.broadcastBytes.Add(uint64(bytes))
	}
	if peers > 0 {
		t.broadcastSends.Add(uint64(peers))
	}
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		ActionsProposed:   t.actionsProposed.Load(),
		ActionsCommitted:  t.actionsCommitted.Load(),
		ActionsRolledBack: t.actionsRolledBack.Load(),
		ActionsExpired:    t.actionsExpired.Load(),
		HashChecks:        t.hashChecks.Load(),
		HashMismatches:    t.hashMismatches.Load(),
		Resyncs:           t.resyncs.Load(),
		BroadcastBytes:    t.broadcastBytes.Load(),
		BroadcastSends:    t.broadcastSends.Load(),
	}
}
