// Package dispatch implements the dispatcher: it turns ordered beat
// batches from the scheduler into OSC bundles addressed to the
// external synthesis engine.
package dispatch

import (
	"time"

	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/fade"
	"github.com/schollz/vibecore/internal/oscclient"
	"github.com/schollz/vibecore/internal/scheduler"
	"github.com/schollz/vibecore/internal/timing"
	"github.com/schollz/vibecore/internal/vlog"
)

var log = vlog.New("dispatch")

// addActionAddToHead mirrors the engine's synth protocol add-action
// constant for inserting a new node at the head of a target group.
const addActionAddToHead = 0

// Dispatcher converts scheduler output into OSC traffic.
type Dispatcher struct {
	Clock         *timing.Clock
	OutputLatency time.Duration
	Client        oscclient.Sender
	Fades         *fade.Engine
	Bus           *bus.Handle
	Store         *corestate.Store

	nextNodeID int32
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(clock *timing.Clock, outputLatency time.Duration, client oscclient.Sender, fades *fade.Engine, handle *bus.Handle, store *corestate.Store) *Dispatcher {
	return &Dispatcher{Clock: clock, OutputLatency: outputLatency, Client: client, Fades: fades, Bus: handle, Store: store, nextNodeID: 1000}
}

// activeSynthRecord is a newly-assigned node id to write back onto the
// bus, tagged with the MIDI note it was triggered for, if any.
type activeSynthRecord struct {
	NodeID  int32
	HasMidi bool
	Midi    uint8
}

// resolveActiveNode finds the engine node id currently addressed by a
// voice/group and, for a note-keyed event, a specific MIDI note.
func resolveActiveNode(snap corestate.Snapshot, voiceName, groupPath string, hasMidi bool, midi uint8) (int32, bool) {
	if voiceName != "" {
		v, ok := snap.Voices[voiceName]
		if !ok {
			return 0, false
		}
		if hasMidi {
			nodeID, ok := v.ActiveNotes[midi]
			return nodeID, ok
		}
		if v.TriggerNodeID != corestate.NoActiveNode {
			return v.TriggerNodeID, true
		}
		return 0, false
	}
	if groupPath != "" {
		if g, ok := snap.Groups[groupPath]; ok && g.LinkSynthNodeID != 0 {
			return g.LinkSynthNodeID, true
		}
	}
	return 0, false
}

// Dispatch converts every batch to a wall-time-addressed OSC bundle,
// grouping batches that land on the same wall time together, and
// sends them. Fade triggers carried on an event are registered before
// the bundle is built; observed node ids are written back onto the
// bus rather than mutated directly here.
func (d *Dispatcher) Dispatch(batches []scheduler.BeatBatch) error {
	snap := d.Store.Snapshot()
	bundlesByWall := map[time.Time]*oscclient.Bundle{}
	var order []time.Time

	for _, batch := range batches {
		wall := d.Clock.WallAt(batch.Beat).Add(d.OutputLatency)
		bundle, ok := bundlesByWall[wall]
		if !ok {
			bundle = &oscclient.Bundle{At: wall}
			bundlesByWall[wall] = bundle
			order = append(order, wall)
		}

		for _, ev := range batch.Events {
			cmds, recorded, released := d.commandsForEvent(snap, ev)
			bundle.Commands = append(bundle.Commands, cmds...)
			for _, r := range recorded {
				msg := bus.RecordActiveSynth{NodeID: r.NodeID, VoiceName: ev.VoiceName, GroupPath: ev.GroupPath, HasMidi: r.HasMidi, Midi: r.Midi}
				if err := d.Bus.Send(msg); err != nil {
					log.Warnf("failed to record active synth: %v", err)
				}
			}
			for _, nodeID := range released {
				if err := d.Bus.Send(bus.ReleaseActiveSynth{NodeID: nodeID}); err != nil {
					log.Warnf("failed to release active synth: %v", err)
				}
			}
		}
	}

	for _, wall := range order {
		if err := d.Client.SendBundle(*bundlesByWall[wall]); err != nil {
			log.Warnf("send failed: %v", err)
			return err
		}
	}
	return nil
}

// commandsForEvent builds the engine commands implied by one event's
// content against the given snapshot, and reports any newly-assigned
// node ids to record or freed node ids to release.
func (d *Dispatcher) commandsForEvent(snap corestate.Snapshot, ev corestate.BeatEvent) ([]oscclient.Command, []activeSynthRecord, []int32) {
	var cmds []oscclient.Command
	var recorded []activeSynthRecord
	var released []int32

	if ev.Fade != nil {
		key := corestate.FadeKey{TargetKind: ev.Fade.TargetKind, TargetName: ev.Fade.TargetName, ParamName: ev.Fade.ParamName}
		d.Fades.Start(key, corestate.ActiveFade{
			TargetKind:      ev.Fade.TargetKind,
			TargetName:      ev.Fade.TargetName,
			ParamName:       ev.Fade.ParamName,
			StartValue:      ev.Fade.StartValue,
			TargetValue:     ev.Fade.TargetValue,
			StartTime:       time.Now(),
			DurationSeconds: ev.Fade.DurationBeats * (60.0 / d.Clock.BPM()),
			DelaySeconds:    ev.Fade.DelaySeconds,
		})
	}

	if ev.StopNode {
		// Free the node already tracked for this voice/note rather than
		// triggering or updating one.
		if nodeID, ok := resolveActiveNode(snap, ev.VoiceName, ev.GroupPath, ev.HasMidi, ev.Midi); ok {
			cmds = append(cmds, oscclient.Command{Address: "/n_free", Args: []any{nodeID}})
			released = append(released, nodeID)
		}
		return cmds, recorded, released
	}

	if ev.SynthDef == "" {
		// Bare control update: a /n_set against the engine node the
		// caller already tracks for this voice/group.
		if len(ev.Controls) > 0 {
			nodeID, ok := resolveActiveNode(snap, ev.VoiceName, ev.GroupPath, ev.HasMidi, ev.Midi)
			if !ok {
				return cmds, recorded, released
			}
			args := []any{nodeID}
			for _, c := range ev.Controls {
				args = append(args, c.Name, c.Value)
			}
			cmds = append(cmds, oscclient.Command{Address: "/n_set", Args: args})
		}
		return cmds, recorded, released
	}

	nodeID := d.nextNodeID
	d.nextNodeID++
	recorded = append(recorded, activeSynthRecord{NodeID: nodeID, HasMidi: ev.HasMidi, Midi: ev.Midi})

	args := []any{ev.SynthDef, nodeID, int32(addActionAddToHead), int32(0)}
	for _, c := range ev.Controls {
		args = append(args, c.Name, c.Value)
	}
	cmds = append(cmds, oscclient.Command{Address: "/s_new", Args: args})
	return cmds, recorded, released
}
