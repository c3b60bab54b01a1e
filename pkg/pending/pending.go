// Package pending correlates out-of-band file-offer responses back to the
// offer workers waiting for them.
//
// A worker arms a single-shot slot for a recipient before sending the offer;
// the recipient's own read loop fulfils it when the FileOfferResponse frame
// arrives. The table routes each response to at most one waiter.
package pending

import (
	"sync"

	"github.com/Tabatskyi/multi-share/pkg/rooms"
)

// Disconnected is the sentinel delivered to a waiter when the client it is
// waiting on closes its connection. It can never collide with a real
// response, which is "y" or "n".
const Disconnected = "disconnected"

// Table maps each client to at most one armed single-shot response slot.
type Table struct {
	mu      sync.Mutex
	waiters map[rooms.ClientID]chan string
}

// NewTable creates an empty response table.
func NewTable() *Table {
	return &Table{waiters: make(map[rooms.ClientID]chan string)}
}

// Arm installs a fresh slot for client and returns the receive side.
// The channel has capacity 1 so Fulfil never blocks the reader's loop.
//
// Arming over an existing slot replaces it; the previous waiter is abandoned
// and observes its own timeout. Which waiter wins that race is undefined.
func (t *Table) Arm(client rooms.ClientID) <-chan string {
	ch := make(chan string, 1)
	t.mu.Lock()
	t.waiters[client] = ch
	t.mu.Unlock()
	return ch
}

// Fulfil delivers value to the armed slot for client and removes it.
// Returns false (dropping the value silently) when nothing is armed,
// which covers late responses arriving after a disarm.
func (t *Table) Fulfil(client rooms.ClientID, value string) bool {
	t.mu.Lock()
	ch, ok := t.waiters[client]
	if ok {
		delete(t.waiters, client)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- value
	return true
}

// Disarm removes the slot for client without delivering a value.
// Called on offer timeout or send failure; the waiter's own timer fires.
func (t *Table) Disarm(client rooms.ClientID) {
	t.mu.Lock()
	delete(t.waiters, client)
	t.mu.Unlock()
}

// Disconnect fulfils any armed slot for client with the Disconnected
// sentinel so waiters unblock immediately. Called on connection teardown.
func (t *Table) Disconnect(client rooms.ClientID) {
	t.Fulfil(client, Disconnected)
}

// Armed reports whether a slot is currently armed for client.
func (t *Table) Armed(client rooms.ClientID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.waiters[client]
	return ok
}
