package app

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MESHDECK_PEER_ID", "alice")
	t.Setenv("MESHDECK_ROSTER", "alice,bob")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:0" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RelayURL != "http://127.0.0.1:8081" {
		t.Fatalf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.StartingLife != 40 || cfg.HistoryDepth != 20 {
		t.Fatalf("defaults: life=%d depth=%d", cfg.StartingLife, cfg.HistoryDepth)
	}
	if cfg.PendingTTL != 10*time.Second || cfg.ReconcileInterval != 5*time.Second {
		t.Fatalf("defaults: ttl=%s reconcile=%s", cfg.PendingTTL, cfg.ReconcileInterval)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MESHDECK_PEER_ID", "bob")
	t.Setenv("MESHDECK_NAME", "Bob")
	t.Setenv("MESHDECK_ROSTER", "alice,bob,carol")
	t.Setenv("MESHDECK_SESSION", "friday-night")
	t.Setenv("MESHDECK_LISTEN", "0.0.0.0:7000")
	t.Setenv("MESHDECK_RELAY", "http://relay.local:9000")
	t.Setenv("MESHDECK_STARTING_LIFE", "20")
	t.Setenv("MESHDECK_HISTORY_DEPTH", "50")
	t.Setenv("MESHDECK_PENDING_TTL", "3s")
	t.Setenv("MESHDECK_RECONCILE_INTERVAL", "1s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PeerID != "bob" || cfg.Name != "Bob" || cfg.SessionID != "friday-night" {
		t.Fatalf("identity fields: %+v", cfg)
	}
	if cfg.ListenAddr != "0.0.0.0:7000" || cfg.RelayURL != "http://relay.local:9000" {
		t.Fatalf("address fields: %+v", cfg)
	}
	if cfg.StartingLife != 20 || cfg.HistoryDepth != 50 {
		t.Fatalf("tuning fields: %+v", cfg)
	}
	if cfg.PendingTTL != 3*time.Second || cfg.ReconcileInterval != time.Second {
		t.Fatalf("duration fields: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("MESHDECK_PENDING_TTL", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected parse error for malformed duration")
	}
}

func TestParseRoster(t *testing.T) {
	entries, err := ParseRoster("alice=Alice, bob ,carol=C")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []RosterEntry{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "bob"},
		{ID: "carol", Name: "C"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseRosterBounds(t *testing.T) {
	if _, err := ParseRoster("alice"); err == nil {
		t.Fatalf("single seat accepted")
	}
	if _, err := ParseRoster("a,b,c,d,e"); err == nil {
		t.Fatalf("five seats accepted")
	}
	if _, err := ParseRoster(""); err == nil {
		t.Fatalf("empty roster accepted")
	}
	if _, err := ParseRoster("=Nameless,bob"); err == nil {
		t.Fatalf("entry without id accepted")
	}
	if entries, err := ParseRoster("a,b,c,d"); err != nil || len(entries) != 4 {
		t.Fatalf("four seats rejected: %v", err)
	}
}
