package game

// Phase identifies a step of the turn. The rotation is fixed; next-turn
// always resets to PhaseUntap.
type Phase string

const (
	PhaseUntap  Phase = "untap"
	PhaseUpkeep Phase = "upkeep"
	PhaseDraw   Phase = "draw"
	PhaseMain1  Phase = "main1"
	PhaseCombat Phase = "combat"
	PhaseMain2  Phase = "main2"
	PhaseEnd    Phase = "end"
)

// Valid reports whether p is one of the seven turn phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseUntap, PhaseUpkeep, PhaseDraw, PhaseMain1, PhaseCombat, PhaseMain2, PhaseEnd:
		return true
	}
	return false
}

// Zone names one of the five per-player card containers.
type Zone string

const (
	ZoneLibrary     Zone = "library"
	ZoneHand        Zone = "hand"
	ZoneBattlefield Zone = "battlefield"
	ZoneGraveyard   Zone = "graveyard"
	ZoneExile       Zone = "exile"
)

// Valid reports whether z names a real zone.
func (z Zone) Valid() bool {
	switch z {
	case ZoneLibrary, ZoneHand, ZoneBattlefield, ZoneGraveyard, ZoneExile:
		return true
	}
	return false
}

// Card is an externally-sourced record identified by a stable ID. The ID
// survives zone transfers; only token creation mints a fresh one.
type Card struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Tapped   bool           `json:"tapped,omitempty"`
	IsToken  bool           `json:"isToken,omitempty"`
	Counters map[string]int `json:"counters,omitempty"`
}

// PlayerState holds one seat's life total and zones. Seats are fixed for the
// lifetime of the session; the order of State.Players defines turn rotation.
type PlayerState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Life        int    `json:"life"`
	Library     []Card `json:"library"`
	Hand        []Card `json:"hand"`
	Battlefield []Card `json:"battlefield"`
	Graveyard   []Card `json:"graveyard"`
	Exile       []Card `json:"exile"`
	Commander   *Card  `json:"commander,omitempty"`
}

// ZoneRef returns a pointer to the named zone's backing slice, or nil for an
// unknown zone name.
func (p *PlayerState) ZoneRef(z Zone) *[]Card {
	switch z {
	case ZoneLibrary:
		return &p.Library
	case ZoneHand:
		return &p.Hand
	case ZoneBattlefield:
		return &p.Battlefield
	case ZoneGraveyard:
		return &p.Graveyard
	case ZoneExile:
		return &p.Exile
	}
	return nil
}

// State is one replica's full copy of the game. Snapshots are treated as
// immutable: every transition deep-clones and bumps Version exactly once.
type State struct {
	ID             string        `json:"id"`
	Version        uint64        `json:"version"`
	ActivePlayerID string        `json:"activePlayerId"`
	Phase          Phase         `json:"phase"`
	TurnNumber     int           `json:"turnNumber"`
	Players        []PlayerState `json:"players"`
	Stack          []Card        `json:"stack"`
	UpdatedAt      int64         `json:"updatedAt"`
}

// Player returns the seat with the given id, or nil.
func (s *State) Player(id string) *PlayerState {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// NextPlayerID returns the seat after the given one in rotation order,
// wrapping at the end. Falls back to the first seat when the id is unknown.
func (s *State) NextPlayerID(id string) string {
	if len(s.Players) == 0 {
		return ""
	}
	for i := range s.Players {
		if s.Players[i].ID == id {
			return s.Players[(i+1)%len(s.Players)].ID
		}
	}
	return s.Players[0].ID
}
