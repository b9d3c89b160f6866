package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultStartingLife is the life total each seat begins with when the
// session config does not override it.
const DefaultStartingLife = 40

// Seat describes one participant at session creation: identity, deck, and an
// optional commander. The deck becomes the seat's starting library in order.
type Seat struct {
	ID        string
	Name      string
	Deck      []Card
	Commander *Card
}

// NewState builds the initial replica for a roster of seats. Seat order is
// preserved and defines turn rotation; the first seat starts as the active
// player in the untap phase of turn 1.
func NewState(sessionID string, seats []Seat, startingLife int) (*State, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("new state: empty roster")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if startingLife == 0 {
		startingLife = DefaultStartingLife
	}

	players := make([]PlayerState, len(seats))
	for i, seat := range seats {
		if seat.ID == "" {
			return nil, fmt.Errorf("new state: seat %d has no id", i)
		}
		player := PlayerState{
			ID:      seat.ID,
			Name:    seat.Name,
			Life:    startingLife,
			Library: CloneCards(seat.Deck),
		}
		if seat.Commander != nil {
			commander := CloneCard(*seat.Commander)
			player.Commander = &commander
		}
		players[i] = player
	}

	return &State{
		ID:             sessionID,
		Version:        0,
		ActivePlayerID: players[0].ID,
		Phase:          PhaseUntap,
		TurnNumber:     1,
		Players:        players,
		UpdatedAt:      time.Now().UnixMilli(),
	}, nil
}
