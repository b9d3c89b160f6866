package signal

import "encoding/json"

// Message kinds carried over the signaling channel. The relay treats signal
// payloads as opaque blobs and forwards them verbatim.
const (
	TypeSignal     = "signal"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
)

// Message is the envelope exchanged with the relay.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	PeerID  string          `json:"peerId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
