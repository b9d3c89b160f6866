package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/app"
	"meshdeck/core/internal/game"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	entries, err := app.ParseRoster(cfg.Roster)
	if err != nil {
		log.Fatalf("%v", err)
	}
	decks := make(map[string][]game.Card, len(entries))
	for _, entry := range entries {
		decks[entry.ID] = sampleDeck(entry.ID)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	peer, err := app.Start(context.Background(), cfg, decks, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer peer.Close()

	pterm.DefaultHeader.Printfln("meshdeck — seat %s on %s", cfg.PeerID, peer.Addr())

	unsubscribe := peer.Session.Subscribe(func(state *game.State) {
		renderState(state)
	})
	defer unsubscribe()

	renderState(peer.Session.State())
	runPrompt(peer)
}

func runPrompt(peer *app.Peer) {
	scanner := bufio.NewScanner(os.Stdin)
	printHelp()
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		action, ok := parseCommand(peer, fields)
		if !ok {
			continue
		}
		if err := peer.Session.Apply(action); err != nil {
			pterm.Warning.Printfln("rejected: %v", err)
		}
	}
}

func parseCommand(peer *app.Peer, fields []string) (actions.Action, bool) {
	self := peer.Session.SelfID()
	switch fields[0] {
	case "draw":
		count := 1
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				pterm.Warning.Printfln("draw: bad count %q", fields[1])
				return actions.Action{}, false
			}
			count = n
		}
		return actions.Action{Kind: actions.KindDrawCard, Draw: &actions.DrawCard{PlayerID: self, Count: count}}, true
	case "play":
		if len(fields) < 2 {
			pterm.Warning.Println("usage: play <cardId> [battlefield|graveyard|exile]")
			return actions.Action{}, false
		}
		zone := game.ZoneBattlefield
		if len(fields) > 2 {
			zone = game.Zone(fields[2])
		}
		return actions.Action{Kind: actions.KindPlayCard, Play: &actions.PlayCard{PlayerID: self, CardID: fields[1], TargetZone: zone}}, true
	case "move":
		if len(fields) != 4 {
			pterm.Warning.Println("usage: move <cardId> <sourceZone> <targetZone>")
			return actions.Action{}, false
		}
		return actions.Action{Kind: actions.KindMoveCard, Move: &actions.MoveCard{
			PlayerID: self, CardID: fields[1], SourceZone: game.Zone(fields[2]), TargetZone: game.Zone(fields[3]),
		}}, true
	case "life":
		if len(fields) != 2 {
			pterm.Warning.Println("usage: life <delta>")
			return actions.Action{}, false
		}
		delta, err := strconv.Atoi(fields[1])
		if err != nil {
			pterm.Warning.Printfln("life: bad delta %q", fields[1])
			return actions.Action{}, false
		}
		return actions.Action{Kind: actions.KindUpdateLife, Life: &actions.UpdateLife{PlayerID: self, Delta: delta}}, true
	case "phase":
		if len(fields) != 2 {
			pterm.Warning.Println("usage: phase <untap|upkeep|draw|main1|combat|main2|end>")
			return actions.Action{}, false
		}
		return actions.Action{Kind: actions.KindChangePhase, Phase: &actions.ChangePhase{Phase: game.Phase(fields[1])}}, true
	case "next":
		return actions.Action{Kind: actions.KindNextTurn}, true
	case "tap", "untap":
		if len(fields) != 2 {
			pterm.Warning.Printfln("usage: %s <cardId>", fields[0])
			return actions.Action{}, false
		}
		return actions.Action{Kind: actions.KindTapCard, Tap: &actions.TapCard{
			PlayerID: self, CardID: fields[1], Tapped: fields[0] == "tap",
		}}, true
	case "untapall":
		return actions.Action{Kind: actions.KindUntapAll, Untap: &actions.UntapAll{PlayerID: self}}, true
	case "token":
		name := "Token"
		if len(fields) > 1 {
			name = fields[1]
		}
		return actions.Action{Kind: actions.KindCreateToken, Token: &actions.CreateToken{
			PlayerID: self, Token: game.Card{Name: name},
		}}, true
	case "shuffle":
		return actions.Action{Kind: actions.KindShuffleLibrary, Shuffle: &actions.ShuffleLibrary{
			PlayerID: self, Seed: time.Now().UnixNano(),
		}}, true
	case "peers":
		pterm.Info.Printfln("connected: %v", peer.Session.ConnectedPeers())
		return actions.Action{}, false
	case "help":
		printHelp()
		return actions.Action{}, false
	case "quit", "exit":
		peer.Close()
		os.Exit(0)
	}
	pterm.Warning.Printfln("unknown command %q (try help)", fields[0])
	return actions.Action{}, false
}

func printHelp() {
	pterm.Info.Println("commands: draw [n] | play <card> [zone] | move <card> <from> <to> | life <delta> | phase <p> | next | tap/untap <card> | untapall | token [name] | shuffle | peers | help | quit")
}

func renderState(state *game.State) {
	rows := pterm.TableData{{"seat", "life", "lib", "hand", "btlfd", "gy", "exile"}}
	for i := range state.Players {
		p := &state.Players[i]
		name := p.Name
		if p.ID == state.ActivePlayerID {
			name = pterm.LightGreen(name + " *")
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(p.Life),
			strconv.Itoa(len(p.Library)),
			strconv.Itoa(len(p.Hand)),
			strconv.Itoa(len(p.Battlefield)),
			strconv.Itoa(len(p.Graveyard)),
			strconv.Itoa(len(p.Exile)),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	pterm.Printfln("v%d — turn %d, %s phase", state.Version, state.TurnNumber, state.Phase)
}

// sampleDeck builds a deterministic demo library so every peer constructs
// identical seats without a deck-list service.
func sampleDeck(seatID string) []game.Card {
	deck := make([]game.Card, 0, 20)
	for i := 1; i <= 20; i++ {
		deck = append(deck, game.Card{
			ID:   fmt.Sprintf("%s-card-%02d", seatID, i),
			Name: fmt.Sprintf("Card %02d", i),
		})
	}
	return deck
}
