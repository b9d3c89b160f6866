package game

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest computes the compact state hash exchanged during anti-entropy
// checks. It covers version, phase, turn, active player, and per-seat life,
// zone counts, and the ordered battlefield id list. Card payloads stay out of
// the digest so the periodic check remains cheap; hand and library order do
// not influence it, battlefield order does.
func (s *State) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s|%d|%s", s.ID, s.Version, s.Phase, s.TurnNumber, s.ActivePlayerID)
	for i := range s.Players {
		p := &s.Players[i]
		fmt.Fprintf(&b, "|%s:%d:%d:%d:%d:%d:%d:",
			p.ID, p.Life,
			len(p.Library), len(p.Hand), len(p.Battlefield), len(p.Graveyard), len(p.Exile))
		for j := range p.Battlefield {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.Battlefield[j].ID)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
