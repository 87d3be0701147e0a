package bus

import (
	"errors"

	"github.com/schollz/vibecore/internal/corestate"
)

// ErrBusClosed is returned by Send when the underlying channel has
// been closed (shutdown in progress).
var ErrBusClosed = errors.New("bus: send on closed bus")

// Handle is the public surface every actor and external collaborator
// holds instead of a *Bus: it can enqueue mutations and read state,
// but cannot drain the channel itself.
type Handle struct {
	bus *Bus
}

// Send enqueues a message for the Worker to apply. If the channel is
// full the caller blocks until the Worker catches up, matching the
// teacher's buffered-channel backpressure model. Send returns
// ErrBusClosed instead of panicking if called after Close.
func (h *Handle) Send(msg Message) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrBusClosed
		}
	}()
	h.bus.ch <- msg
	return nil
}

// WithRead passes through to the store's WithRead.
func (h *Handle) WithRead(fn func(corestate.Snapshot)) {
	h.bus.store.WithRead(fn)
}

// Snapshot passes through to the store's Snapshot.
func (h *Handle) Snapshot() corestate.Snapshot {
	return h.bus.store.Snapshot()
}

// Store returns the underlying store, for components (scheduler tick,
// fade tick) that need direct WithWrite access for internal feedback
// messages without round-tripping through the channel.
func (h *Handle) Store() *corestate.Store {
	return h.bus.store
}
