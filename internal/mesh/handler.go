package mesh

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler accepts inbound mesh connections from remote peers. The remote
// identifies itself with the from query parameter; the connection is handed
// to the manager as a regular link.
type Handler struct {
	manager  *Manager
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs the inbound mesh endpoint for the given manager.
func NewHandler(manager *Manager, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and adopts the connection as a peer link.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	if from == "" {
		http.Error(w, "missing from", http.StatusBadRequest)
		return
	}
	if from == h.manager.SelfID() {
		http.Error(w, "cannot link to self", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[mesh] upgrade failed for %s: %v", from, err)
		return
	}

	h.manager.Adopt(from, conn)
}
