package actions

import (
	"errors"
	"fmt"
	"math/rand"

	"meshdeck/core/internal/game"
)

// Validation failures surfaced by Apply. Callers branch on these to vote
// reject without treating the failure as a fault.
var (
	ErrUnknownKind      = errors.New("unknown action kind")
	ErrMissingPayload   = errors.New("action payload missing")
	ErrUnknownPlayer    = errors.New("unknown player")
	ErrCardNotFound     = errors.New("card not found")
	ErrLibraryTooSmall  = errors.New("library has fewer cards than requested")
	ErrInvalidZone      = errors.New("invalid zone")
	ErrInvalidPhase     = errors.New("invalid phase")
	ErrNotOnBattlefield = errors.New("card not on battlefield")
)

// Apply runs one action against a state and returns the successor snapshot.
// It is pure with respect to its inputs: the given state is never mutated,
// and a validation failure returns a nil state alongside the reason. Every
// successful application bumps Version by exactly one and refreshes
// UpdatedAt from the action's own timestamp so replicas stay byte-equal.
func Apply(state *game.State, action Action) (*game.State, error) {
	next := state.Clone()

	var err error
	switch action.Kind {
	case KindDrawCard:
		err = applyDraw(next, action.Draw)
	case KindPlayCard:
		err = applyPlay(next, action.Play)
	case KindMoveCard:
		err = applyMove(next, action.Move)
	case KindUpdateLife:
		err = applyLife(next, action.Life)
	case KindChangePhase:
		err = applyPhase(next, action.Phase)
	case KindNextTurn:
		err = applyNextTurn(next)
	case KindAddCounter:
		err = applyCounter(next, action.Counter, 1)
	case KindRemoveCounter:
		err = applyCounter(next, action.Counter, -1)
	case KindCreateToken:
		err = applyToken(next, action.Token)
	case KindTapCard:
		err = applyTap(next, action.Tap)
	case KindUntapAll:
		err = applyUntapAll(next, action.Untap)
	case KindShuffleLibrary:
		err = applyShuffle(next, action.Shuffle)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, action.Kind)
	}
	if err != nil {
		return nil, err
	}

	next.Version++
	next.UpdatedAt = action.Timestamp
	return next, nil
}

func applyDraw(state *game.State, payload *DrawCard) error {
	if payload == nil {
		return ErrMissingPayload
	}
	player := state.Player(payload.PlayerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, payload.PlayerID)
	}
	if payload.Count < 0 {
		return fmt.Errorf("draw count %d is negative", payload.Count)
	}
	if len(player.Library) < payload.Count {
		return fmt.Errorf("%w: have %d, want %d", ErrLibraryTooSmall, len(player.Library), payload.Count)
	}
	drawn := player.Library[:payload.Count]
	player.Hand = append(player.Hand, drawn...)
	player.Library = player.Library[payload.Count:]
	return nil
}

func applyPlay(state *game.State, payload *PlayCard) error {
	if payload == nil {
		return ErrMissingPayload
	}
	switch payload.TargetZone {
	case game.ZoneBattlefield, game.ZoneGraveyard, game.ZoneExile:
	default:
		return fmt.Errorf("%w: cannot play to %q", ErrInvalidZone, payload.TargetZone)
	}
	return moveBetweenZones(state, payload.PlayerID, payload.CardID, game.ZoneHand, payload.TargetZone)
}

func applyMove(state *game.State, payload *MoveCard) error {
	if payload == nil {
		return ErrMissingPayload
	}
	if !payload.SourceZone.Valid() || !payload.TargetZone.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidZone, payload.SourceZone, payload.TargetZone)
	}
	return moveBetweenZones(state, payload.PlayerID, payload.CardID, payload.SourceZone, payload.TargetZone)
}

func moveBetweenZones(state *game.State, playerID, cardID string, source, target game.Zone) error {
	player := state.Player(playerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	from := player.ZoneRef(source)
	to := player.ZoneRef(target)
	if from == nil || to == nil {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidZone, source, target)
	}
	for i, card := range *from {
		if card.ID == cardID {
			*from = append((*from)[:i], (*from)[i+1:]...)
			if target != game.ZoneBattlefield {
				card.Tapped = false
			}
			*to = append(*to, card)
			return nil
		}
	}
	return fmt.Errorf("%w: %s in %s of %s", ErrCardNotFound, cardID, source, playerID)
}

func applyLife(state *game.State, payload *UpdateLife) error {
	if payload == nil {
		return ErrMissingPayload
	}
	player := state.Player(payload.PlayerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, payload.PlayerID)
	}
	player.Life += payload.Delta
	return nil
}

func applyPhase(state *game.State, payload *ChangePhase) error {
	if payload == nil {
		return ErrMissingPayload
	}
	if !payload.Phase.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPhase, payload.Phase)
	}
	state.Phase = payload.Phase
	return nil
}

func applyNextTurn(state *game.State) error {
	state.ActivePlayerID = state.NextPlayerID(state.ActivePlayerID)
	state.Phase = game.PhaseUntap
	state.TurnNumber++
	return nil
}

func applyCounter(state *game.State, payload *CounterDelta, sign int) error {
	if payload == nil {
		return ErrMissingPayload
	}
	if payload.Count <= 0 {
		return fmt.Errorf("counter count %d must be positive", payload.Count)
	}
	card, err := battlefieldCard(state, payload.PlayerID, payload.CardID)
	if err != nil {
		return err
	}
	if card.Counters == nil {
		card.Counters = make(map[string]int)
	}
	next := card.Counters[payload.CounterType] + sign*payload.Count
	if next <= 0 {
		delete(card.Counters, payload.CounterType)
		if len(card.Counters) == 0 {
			card.Counters = nil
		}
		return nil
	}
	card.Counters[payload.CounterType] = next
	return nil
}

func applyToken(state *game.State, payload *CreateToken) error {
	if payload == nil {
		return ErrMissingPayload
	}
	player := state.Player(payload.PlayerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, payload.PlayerID)
	}
	if payload.Token.ID == "" {
		return fmt.Errorf("token has no id")
	}
	token := game.CloneCard(payload.Token)
	token.IsToken = true
	player.Battlefield = append(player.Battlefield, token)
	return nil
}

func applyTap(state *game.State, payload *TapCard) error {
	if payload == nil {
		return ErrMissingPayload
	}
	card, err := battlefieldCard(state, payload.PlayerID, payload.CardID)
	if err != nil {
		return err
	}
	card.Tapped = payload.Tapped
	return nil
}

func applyUntapAll(state *game.State, payload *UntapAll) error {
	if payload == nil {
		return ErrMissingPayload
	}
	player := state.Player(payload.PlayerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, payload.PlayerID)
	}
	for i := range player.Battlefield {
		player.Battlefield[i].Tapped = false
	}
	return nil
}

func applyShuffle(state *game.State, payload *ShuffleLibrary) error {
	if payload == nil {
		return ErrMissingPayload
	}
	player := state.Player(payload.PlayerID)
	if player == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, payload.PlayerID)
	}
	rng := rand.New(rand.NewSource(payload.Seed))
	library := player.Library
	for i := len(library) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		library[i], library[j] = library[j], library[i]
	}
	return nil
}

func battlefieldCard(state *game.State, playerID, cardID string) (*game.Card, error) {
	player := state.Player(playerID)
	if player == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	for i := range player.Battlefield {
		if player.Battlefield[i].ID == cardID {
			return &player.Battlefield[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s for %s", ErrNotOnBattlefield, cardID, playerID)
}
