package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the environment-driven settings for one peer process.
type Config struct {
	// PeerID doubles as the seat id in the session roster.
	PeerID string `env:"MESHDECK_PEER_ID"`
	Name   string `env:"MESHDECK_NAME"`
	// Roster lists every seat as id or id=name pairs, comma separated, in
	// turn order. Every peer must pass the identical roster.
	Roster string `env:"MESHDECK_ROSTER"`

	SessionID  string `env:"MESHDECK_SESSION"`
	ListenAddr string `env:"MESHDECK_LISTEN" envDefault:"127.0.0.1:0"`
	RelayURL   string `env:"MESHDECK_RELAY" envDefault:"http://127.0.0.1:8081"`

	StartingLife      int           `env:"MESHDECK_STARTING_LIFE" envDefault:"40"`
	HistoryDepth      int           `env:"MESHDECK_HISTORY_DEPTH" envDefault:"20"`
	PendingTTL        time.Duration `env:"MESHDECK_PENDING_TTL" envDefault:"10s"`
	ReconcileInterval time.Duration `env:"MESHDECK_RECONCILE_INTERVAL" envDefault:"5s"`
}

// LoadConfig parses the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// RosterEntry is one parsed seat declaration.
type RosterEntry struct {
	ID   string
	Name string
}

// ParseRoster splits a roster declaration like "alice=Alice,bob,carol=C"
// into ordered entries. A missing name falls back to the id.
func ParseRoster(roster string) ([]RosterEntry, error) {
	if strings.TrimSpace(roster) == "" {
		return nil, fmt.Errorf("parse roster: empty")
	}
	parts := strings.Split(roster, ",")
	entries := make([]RosterEntry, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, found := strings.Cut(part, "=")
		if !found {
			name = id
		}
		if id == "" {
			return nil, fmt.Errorf("parse roster: entry %q has no id", part)
		}
		entries = append(entries, RosterEntry{ID: id, Name: name})
	}
	if len(entries) < 2 || len(entries) > 4 {
		return nil, fmt.Errorf("parse roster: need 2-4 seats, got %d", len(entries))
	}
	return entries, nil
}
