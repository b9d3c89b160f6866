// Command schema emits the JSON schema for the peer wire protocol, consumed
// by the browser client build to validate message handling. With no -out it
// prints to stdout; with -out it writes atomically via a temp file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"meshdeck/core/internal/proto"
)

type wireMessages struct {
	GameAction       proto.GameActionMessage       `json:"gameAction"`
	ActionVote       proto.ActionVoteMessage       `json:"actionVote"`
	GameState        proto.GameStateMessage        `json:"gameState"`
	StateHashCheck   proto.StateHashMessage        `json:"stateHashCheck"`
	RequestFullState proto.RequestFullStateMessage `json:"requestFullState"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "write the schema here instead of stdout")
	flag.Parse()

	reflector := jsonschema.Reflector{AllowAdditionalProperties: true}
	schema := reflector.Reflect(new(wireMessages))
	schema.Title = "meshdeck peer protocol"
	schema.Description = "Envelopes exchanged over peer mesh links"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fatalf("marshal schema: %v", err)
	}
	data = append(data, '\n')

	if outPath == "" {
		os.Stdout.Write(data)
		return
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fatalf("create schema directory: %v", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		fatalf("write temp schema: %v", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		fatalf("replace schema: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
