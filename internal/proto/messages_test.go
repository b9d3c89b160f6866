package proto

import (
	"strings"
	"testing"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/game"
)

func TestDecodeRoutesByType(t *testing.T) {
	action := actions.Action{
		ID:   "a1",
		Kind: actions.KindDrawCard,
		Draw: &actions.DrawCard{PlayerID: "alice", Count: 2},
	}
	data, err := EncodeGameAction(action)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	am, ok := msg.(*GameActionMessage)
	if !ok {
		t.Fatalf("decoded %T, want *GameActionMessage", msg)
	}
	if am.Ver != Version || am.Action.ID != "a1" || am.Action.Draw == nil || am.Action.Draw.Count != 2 {
		t.Fatalf("round trip lost fields: %+v", am)
	}

	data, err = EncodeActionVote("a1", false)
	if err != nil {
		t.Fatalf("encode vote: %v", err)
	}
	msg, err = Decode(data)
	if err != nil {
		t.Fatalf("decode vote: %v", err)
	}
	if vm, ok := msg.(*ActionVoteMessage); !ok || vm.ActionID != "a1" || vm.Approved {
		t.Fatalf("vote round trip: %+v", msg)
	}

	data, err = EncodeGameState(&game.State{ID: "s1", Version: 7})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	msg, err = Decode(data)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if sm, ok := msg.(*GameStateMessage); !ok || sm.State == nil || sm.State.Version != 7 {
		t.Fatalf("state round trip: %+v", msg)
	}

	data, err = EncodeStateHash("abc123")
	if err != nil {
		t.Fatalf("encode hash: %v", err)
	}
	msg, err = Decode(data)
	if err != nil {
		t.Fatalf("decode hash: %v", err)
	}
	if hm, ok := msg.(*StateHashMessage); !ok || hm.StateHash != "abc123" {
		t.Fatalf("hash round trip: %+v", msg)
	}

	data, err = EncodeRequestFullState()
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	msg, err = Decode(data)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if _, ok := msg.(*RequestFullStateMessage); !ok {
		t.Fatalf("request round trip: %T", msg)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"ver":1,"type":"teleport"}`))
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("expected unknown-type error naming the tag, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"ver":`)); err == nil {
		t.Fatalf("expected envelope error")
	}
	if _, err := Decode([]byte(`{"ver":1,"type":"action-vote","approved":"yes"}`)); err == nil {
		t.Fatalf("expected body error for mistyped field")
	}
}
