// Package midiio is the MIDI boundary adapter: a device registry for
// sending notes out to a MIDI instrument, and a Router that turns
// inbound note/CC traffic from a MIDI controller into bus mutation
// messages.
package midiio

import (
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/vlog"
)

var log = vlog.New("midiio")

// Devices lists every currently visible MIDI output port name.
func Devices() []string {
	var names []string
	for _, out := range midi.GetOutPorts() {
		names = append(names, out.String())
	}
	return names
}

// filterName finds the visible output port that best matches name: an
// exact case-insensitive match first, then a prefix match, then a
// substring match.
func filterName(name string) (string, error) {
	return matchDeviceName(name, Devices())
}

// matchDeviceName is filterName's matching logic pulled out so tests
// can exercise it against a fixed device list instead of real
// hardware.
func matchDeviceName(name string, names []string) (string, error) {
	words := strings.Fields(name)
	if len(words) > 3 {
		words = words[:3]
	}
	truncated := strings.Join(words, " ")

	for _, n := range names {
		if strings.EqualFold(n, truncated) {
			return n, nil
		}
	}
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), strings.ToLower(truncated)) {
			return n, nil
		}
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), strings.ToLower(truncated)) {
			return n, nil
		}
	}
	return "", fmt.Errorf("could not find MIDI device matching %q", truncated)
}

// Registry is a non-global, per-runtime device map: each Runtime owns
// its own Registry so tests (and multiple concurrent sessions) never
// share MIDI device state through process globals.
type Registry struct {
	mu   sync.Mutex
	open map[string]drivers.Out
}

// NewRegistry returns an empty, ready-to-use device registry.
func NewRegistry() *Registry {
	return &Registry{open: map[string]drivers.Out{}}
}

// Open resolves name to a visible output port and opens it, reusing an
// already-open port of the same resolved name.
func (r *Registry) Open(name string) (string, error) {
	resolved, err := filterName(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[resolved]; ok {
		return resolved, nil
	}
	out, err := midi.FindOutPort(resolved)
	if err != nil {
		return "", err
	}
	if err := out.Open(); err != nil {
		return "", err
	}
	r.open[resolved] = out
	return resolved, nil
}

// Send writes a raw channel message to the already-open resolved
// device name.
func (r *Registry) Send(resolvedName string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.open[resolvedName]
	if !ok {
		return fmt.Errorf("midi device %q is not open", resolvedName)
	}
	return out.Send(msg)
}

// NoteOn sends a note-on channel message.
func (r *Registry) NoteOn(resolvedName string, channel, note, velocity uint8) error {
	return r.Send(resolvedName, []byte{0x90 | channel, note, velocity})
}

// NoteOff sends a note-off channel message.
func (r *Registry) NoteOff(resolvedName string, channel, note uint8) error {
	return r.Send(resolvedName, []byte{0x80 | channel, note, 0})
}

// Close closes every open device.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, out := range r.open {
		out.Close()
		delete(r.open, name)
	}
}

// CCMapping says which bus message a controller's CC number should
// produce: a direct SetGroupParam on the mapped group parameter, scaled
// linearly into [Min, Max].
type CCMapping struct {
	CC        uint8
	GroupPath string
	ParamName string
	Min, Max  float32
}

// Router listens on an inbound MIDI port and turns note and CC traffic
// into bus messages: routing keyboard/note/cc into the core, not a
// script-facing routing-table DSL.
type Router struct {
	Bus        *bus.Handle
	VoiceName  string
	CCMappings []CCMapping

	stop func()
}

// NewRouter builds a Router that will publish NoteOn/NoteOff messages
// for voiceName and apply any configured CC mappings as SetGroupParam
// messages.
func NewRouter(handle *bus.Handle, voiceName string, mappings []CCMapping) *Router {
	return &Router{Bus: handle, VoiceName: voiceName, CCMappings: mappings}
}

// Listen opens the named input port and starts routing its traffic
// onto the bus until Close is called.
func (r *Router) Listen(deviceName string) error {
	in, err := midi.FindInPort(deviceName)
	if err != nil {
		return fmt.Errorf("could not find MIDI input %q: %w", deviceName, err)
	}

	stop, err := midi.ListenTo(in, r.handle)
	if err != nil {
		return err
	}
	r.stop = stop
	return nil
}

// Close stops listening, if currently listening.
func (r *Router) Close() {
	if r.stop != nil {
		r.stop()
	}
}

func (r *Router) handle(msg midi.Message, _ int32) {
	var channel, key, velocity, cc, val uint8

	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		if err := r.Bus.Send(bus.NoteOn{Name: r.VoiceName, Midi: key, Velocity: float32(velocity) / 127.0}); err != nil {
			log.Warnf("note on dropped: %v", err)
		}
	case msg.GetNoteOff(&channel, &key, &velocity):
		if err := r.Bus.Send(bus.NoteOff{Name: r.VoiceName, Midi: key}); err != nil {
			log.Warnf("note off dropped: %v", err)
		}
	case msg.GetControlChange(&channel, &cc, &val):
		r.routeCC(cc, val)
	}
}

func (r *Router) routeCC(cc, val uint8) {
	for _, m := range r.CCMappings {
		if m.CC != cc {
			continue
		}
		t := float32(val) / 127.0
		value := m.Min + (m.Max-m.Min)*t
		if err := r.Bus.Send(bus.SetGroupParam{Path: m.GroupPath, Param: m.ParamName, Value: value}); err != nil {
			log.Warnf("cc mapping dropped: %v", err)
		}
	}
}
