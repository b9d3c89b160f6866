package main

import (
	"flag"
	"log"
	"net/http"

	"meshdeck/core/internal/signal"
)

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8081", "listen address for the signaling relay")
	flag.Parse()

	relay := signal.NewRelay(log.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.Handle)

	log.Printf("signaling relay listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("relay failed: %v", err)
	}
}
