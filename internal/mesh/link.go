package mesh

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 2 * time.Second
	pongWait     = 3 * pingInterval
)

// Link is one full-duplex channel to a remote peer. Delivery is in-order and
// reliable while the link is up; nothing sent across a disconnect is queued
// or retried. Writes from concurrent goroutines serialize on the write lock.
type Link struct {
	peerID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	rttNano atomic.Int64
	done    chan struct{}
}

func newLink(peerID string, conn *websocket.Conn) *Link {
	return &Link{
		peerID: peerID,
		conn:   conn,
		done:   make(chan struct{}),
	}
}

// PeerID returns the remote participant this link reaches.
func (l *Link) PeerID() string { return l.peerID }

// Connected reports whether the link is still usable.
func (l *Link) Connected() bool { return !l.closed.Load() }

// RTT returns the last measured ping round trip, or zero before the first
// pong arrives.
func (l *Link) RTT() time.Duration { return time.Duration(l.rttNano.Load()) }

// recordPong ingests a pong's echoed send timestamp.
func (l *Link) recordPong(appData string) {
	sentAt, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return
	}
	l.rttNano.Store(time.Now().UnixNano() - sentAt)
}

// Send writes one payload to the remote peer. Returns false when the link is
// not currently connected or the write fails; failed sends are dropped, not
// queued.
func (l *Link) Send(payload []byte) bool {
	if l.closed.Load() {
		return false
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		l.markClosed()
		return false
	}
	return true
}

func (l *Link) ping() bool {
	if l.closed.Load() {
		return false
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := l.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeWait)); err != nil {
		l.markClosed()
		return false
	}
	return true
}

func (l *Link) markClosed() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.done)
		l.conn.Close()
	}
}
