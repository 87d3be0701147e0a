// Package oscclient is the outbound boundary adapter: it turns a
// Bundle of engine commands into real OSC packets sent over UDP via
// go-osc, using the same Append-based message-building style used
// throughout the engine's OSC call sites.
package oscclient

import (
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/schollz/vibecore/internal/vlog"
)

var log = vlog.New("osc")

// Command is one engine command to send, addressed like the engine's
// synth protocol (/s_new, /n_set, /n_free, /g_new, /b_allocRead,
// /b_free, /d_recv).
type Command struct {
	Address string
	Args    []any
}

// Bundle groups commands that share a future send time.
type Bundle struct {
	At       time.Time
	Commands []Command
}

// Sender is the interface the dispatcher depends on, so tests can
// substitute a recording fake instead of a real UDP socket.
type Sender interface {
	SendBundle(Bundle) error
	Close() error
}

// UDPSender sends bundles to a real engine process over UDP.
type UDPSender struct {
	client *osc.Client
}

// NewUDPSender dials an OSC client at host:port. go-osc's client is a
// thin UDP wrapper, so this never fails synchronously; connection
// problems surface as Send errors.
func NewUDPSender(host string, port int) *UDPSender {
	return &UDPSender{client: osc.NewClient(host, port)}
}

// SendBundle converts Bundle into an osc.Bundle time-tagged with b.At
// and sends it once; a send error is returned as is, without retry.
func (s *UDPSender) SendBundle(b Bundle) error {
	if len(b.Commands) == 0 {
		return nil
	}

	bundle := osc.NewBundle(b.At)
	for _, c := range b.Commands {
		bundle.Append(buildMessage(c))
	}
	return s.client.Send(bundle)
}

// Close releases the underlying client. go-osc's Client has no Close
// method; this is a no-op kept so Sender implementations are
// symmetric with a future transport that does need teardown.
func (s *UDPSender) Close() error { return nil }

func buildMessage(c Command) *osc.Message {
	msg := osc.NewMessage(c.Address)
	for _, arg := range c.Args {
		msg.Append(arg)
	}
	return msg
}
