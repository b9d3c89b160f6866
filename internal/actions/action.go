package actions

import (
	"time"

	"github.com/google/uuid"

	"meshdeck/core/internal/game"
)

// Kind enumerates the supported game actions.
type Kind string

const (
	KindDrawCard       Kind = "draw-card"
	KindPlayCard       Kind = "play-card"
	KindMoveCard       Kind = "move-card"
	KindUpdateLife     Kind = "update-life"
	KindChangePhase    Kind = "change-phase"
	KindNextTurn       Kind = "next-turn"
	KindAddCounter     Kind = "add-counter"
	KindRemoveCounter  Kind = "remove-counter"
	KindCreateToken    Kind = "create-token"
	KindTapCard        Kind = "tap-card"
	KindUntapAll       Kind = "untap-all"
	KindShuffleLibrary Kind = "shuffle-library"
)

// DrawCard moves cards from the front of a library to the back of a hand.
type DrawCard struct {
	PlayerID string `json:"playerId"`
	Count    int    `json:"count"`
}

// PlayCard moves a card out of a hand into battlefield, graveyard, or exile.
type PlayCard struct {
	PlayerID   string    `json:"playerId"`
	CardID     string    `json:"cardId"`
	TargetZone game.Zone `json:"targetZone"`
}

// MoveCard transfers a card between two named zones of the same seat.
type MoveCard struct {
	PlayerID   string    `json:"playerId"`
	CardID     string    `json:"cardId"`
	SourceZone game.Zone `json:"sourceZone"`
	TargetZone game.Zone `json:"targetZone"`
}

// UpdateLife adjusts a seat's life total by a signed delta. No bounds.
type UpdateLife struct {
	PlayerID string `json:"playerId"`
	Delta    int    `json:"delta"`
}

// ChangePhase sets the turn phase.
type ChangePhase struct {
	Phase game.Phase `json:"phase"`
}

// CounterDelta adjusts a named counter on a battlefield card. Removal floors
// the count at zero and drops the entry when it empties.
type CounterDelta struct {
	PlayerID    string `json:"playerId"`
	CardID      string `json:"cardId"`
	CounterType string `json:"counterType"`
	Count       int    `json:"count"`
}

// CreateToken appends a freshly minted token card to a seat's battlefield.
// The token id is assigned by the proposer so every replica lands on the
// same identity.
type CreateToken struct {
	PlayerID string    `json:"playerId"`
	Token    game.Card `json:"token"`
}

// TapCard sets the tapped flag on a battlefield card.
type TapCard struct {
	PlayerID string `json:"playerId"`
	CardID   string `json:"cardId"`
	Tapped   bool   `json:"tapped"`
}

// UntapAll clears the tapped flag on every battlefield card of a seat.
type UntapAll struct {
	PlayerID string `json:"playerId"`
}

// ShuffleLibrary reorders a seat's library with a deterministic shuffle keyed
// by the carried seed, so replicas agree on the resulting order.
type ShuffleLibrary struct {
	PlayerID string `json:"playerId"`
	Seed     int64  `json:"seed"`
}

// Action is the unit of replication: an idempotently-identified request to
// mutate game state. Exactly one payload field matching Kind is set;
// next-turn carries none.
type Action struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"type"`
	SourcePlayer string          `json:"sourcePlayer"`
	Timestamp    int64           `json:"timestamp"`
	Draw         *DrawCard       `json:"draw,omitempty"`
	Play         *PlayCard       `json:"play,omitempty"`
	Move         *MoveCard       `json:"move,omitempty"`
	Life         *UpdateLife     `json:"life,omitempty"`
	Phase        *ChangePhase    `json:"phase,omitempty"`
	Counter      *CounterDelta   `json:"counter,omitempty"`
	Token        *CreateToken    `json:"token,omitempty"`
	Tap          *TapCard        `json:"tap,omitempty"`
	Untap        *UntapAll       `json:"untap,omitempty"`
	Shuffle      *ShuffleLibrary `json:"shuffle,omitempty"`
}

// Prepare fills in the identity fields a caller may omit: a unique action id,
// a proposal timestamp, and a minted token id for create-token. It returns
// the completed action without touching the receiver's other fields.
func Prepare(action Action) Action {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp == 0 {
		action.Timestamp = time.Now().UnixMilli()
	}
	if action.Kind == KindCreateToken && action.Token != nil && action.Token.Token.ID == "" {
		token := *action.Token
		token.Token.ID = uuid.NewString()
		token.Token.IsToken = true
		action.Token = &token
	}
	return action
}
