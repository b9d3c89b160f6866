package game

// Clone returns a deep copy of the state, including every zone slice and
// counter map. Mutating the copy never aliases the original.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cloned := *s
	cloned.Players = ClonePlayers(s.Players)
	cloned.Stack = CloneCards(s.Stack)
	return &cloned
}

// ClonePlayers returns a deep copy of the provided seat slice.
func ClonePlayers(players []PlayerState) []PlayerState {
	if len(players) == 0 {
		return nil
	}
	cloned := make([]PlayerState, len(players))
	for i, player := range players {
		cloned[i] = ClonePlayer(player)
	}
	return cloned
}

// ClonePlayer returns a deep copy of the provided seat.
func ClonePlayer(player PlayerState) PlayerState {
	cloned := player
	cloned.Library = CloneCards(player.Library)
	cloned.Hand = CloneCards(player.Hand)
	cloned.Battlefield = CloneCards(player.Battlefield)
	cloned.Graveyard = CloneCards(player.Graveyard)
	cloned.Exile = CloneCards(player.Exile)
	if player.Commander != nil {
		commander := CloneCard(*player.Commander)
		cloned.Commander = &commander
	}
	return cloned
}

// CloneCards returns a deep copy of the provided card slice.
func CloneCards(cards []Card) []Card {
	if len(cards) == 0 {
		return nil
	}
	cloned := make([]Card, len(cards))
	for i, card := range cards {
		cloned[i] = CloneCard(card)
	}
	return cloned
}

// CloneCard returns a deep copy of the provided card.
func CloneCard(card Card) Card {
	cloned := card
	if len(card.Counters) > 0 {
		counters := make(map[string]int, len(card.Counters))
		for kind, count := range card.Counters {
			counters[kind] = count
		}
		cloned.Counters = counters
	}
	return cloned
}
