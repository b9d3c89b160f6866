package proto

import (
	"encoding/json"
	"fmt"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/game"
)

// Version tracks the peer wire-protocol revision.
const Version = 1

// Type identifiers for peer-to-peer payloads.
const (
	TypeGameAction       = "game-action"
	TypeActionVote       = "action-vote"
	TypeGameState        = "game-state"
	TypeStateHashCheck   = "state-hash-check"
	TypeRequestFullState = "request-full-state"
)

// GameActionMessage broadcasts a proposed action to the mesh.
type GameActionMessage struct {
	Ver    int            `json:"ver"`
	Type   string         `json:"type"`
	Action actions.Action `json:"action"`
}

// ActionVoteMessage carries one peer's accept/reject verdict on an action.
type ActionVoteMessage struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	ActionID string `json:"actionId"`
	Approved bool   `json:"approved"`
}

// GameStateMessage carries a full state snapshot, used for new-peer bootstrap
// and divergence repair.
type GameStateMessage struct {
	Ver   int         `json:"ver"`
	Type  string      `json:"type"`
	State *game.State `json:"state"`
}

// StateHashMessage carries the compact anti-entropy digest.
type StateHashMessage struct {
	Ver       int    `json:"ver"`
	Type      string `json:"type"`
	StateHash string `json:"stateHash"`
}

// RequestFullStateMessage asks a diverged peer for its full snapshot.
type RequestFullStateMessage struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}

// EncodeGameAction renders a game-action payload.
func EncodeGameAction(action actions.Action) ([]byte, error) {
	return json.Marshal(GameActionMessage{Ver: Version, Type: TypeGameAction, Action: action})
}

// EncodeActionVote renders an action-vote payload.
func EncodeActionVote(actionID string, approved bool) ([]byte, error) {
	return json.Marshal(ActionVoteMessage{Ver: Version, Type: TypeActionVote, ActionID: actionID, Approved: approved})
}

// EncodeGameState renders a full-snapshot payload.
func EncodeGameState(state *game.State) ([]byte, error) {
	return json.Marshal(GameStateMessage{Ver: Version, Type: TypeGameState, State: state})
}

// EncodeStateHash renders a state-hash-check payload.
func EncodeStateHash(hash string) ([]byte, error) {
	return json.Marshal(StateHashMessage{Ver: Version, Type: TypeStateHashCheck, StateHash: hash})
}

// EncodeRequestFullState renders a request-full-state payload.
func EncodeRequestFullState() ([]byte, error) {
	return json.Marshal(RequestFullStateMessage{Ver: Version, Type: TypeRequestFullState})
}

type envelope struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}

// Decode parses a peer payload into its concrete message struct. Unknown
// type tags are an error so senders on a newer protocol revision fail loudly
// instead of being half-applied.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeGameAction:
		var msg GameActionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &msg, nil
	case TypeActionVote:
		var msg ActionVoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &msg, nil
	case TypeGameState:
		var msg GameStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &msg, nil
	case TypeStateHashCheck:
		var msg StateHashMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &msg, nil
	case TypeRequestFullState:
		var msg RequestFullStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
