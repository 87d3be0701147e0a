// Package meter is the inbound metering boundary adapter: it decodes
// the engine's periodic level-trigger messages into bus mutation
// messages, using the same OSC dispatcher/server pattern as the rest
// of the inbound boundary. The wire contract is "/tr node_id trig_id
// value".
package meter

import (
	"fmt"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/vlog"
)

var log = vlog.New("meter")

// StaleAfter is the age past which a MeterReading is considered
// decayed to zero by readers, rather than deleted from the store.
const StaleAfter = 200 * time.Millisecond

// Stale reports whether r is older than StaleAfter as of now.
func Stale(r corestate.MeterReading, now time.Time) bool {
	return now.Sub(r.At) > StaleAfter
}

// trigIDs the engine's link synths use to tag which meter field a
// /tr message is reporting.
const (
	trigPeakL = 0
	trigPeakR = 1
	trigRmsL  = 2
	trigRmsR  = 3
)

// Decoder accumulates /tr messages (which arrive as separate
// single-value triggers, one per field, at ~20Hz) into complete
// MeterReading updates and republishes them onto the bus keyed by
// group path.
type Decoder struct {
	Bus *bus.Handle

	// groupForNode resolves an engine node id to the group path whose
	// link synth produced it, supplied by the caller since only the
	// state actor's snapshot knows the node->group mapping.
	groupForNode func(nodeID int32) (string, bool)

	pending map[int32]corestate.MeterReading
}

// NewDecoder builds a Decoder that looks up a /tr message's node id
// against groupForNode to find which group's reading to update.
func NewDecoder(handle *bus.Handle, groupForNode func(nodeID int32) (string, bool)) *Decoder {
	return &Decoder{Bus: handle, groupForNode: groupForNode, pending: map[int32]corestate.MeterReading{}}
}

// Register attaches the decoder's /tr handler to an OSC dispatcher.
func (d *Decoder) Register(dispatcher *osc.StandardDispatcher) {
	dispatcher.AddMsgHandler("/tr", func(msg *osc.Message) {
		if err := d.handle(msg); err != nil {
			log.Warnf("malformed /tr message: %v", err)
		}
	})
}

func (d *Decoder) handle(msg *osc.Message) error {
	if len(msg.Arguments) != 3 {
		return fmt.Errorf("expected 3 arguments (node_id, trig_id, value), got %d", len(msg.Arguments))
	}
	nodeID, ok := toInt32(msg.Arguments[0])
	if !ok {
		return fmt.Errorf("node_id argument is not numeric")
	}
	trigID, ok := toInt32(msg.Arguments[1])
	if !ok {
		return fmt.Errorf("trig_id argument is not numeric")
	}
	value, ok := toFloat32(msg.Arguments[2])
	if !ok {
		return fmt.Errorf("value argument is not numeric")
	}

	groupPath, ok := d.groupForNode(nodeID)
	if !ok {
		return nil
	}

	reading := d.pending[nodeID]
	switch trigID {
	case trigPeakL:
		reading.PeakL = value
	case trigPeakR:
		reading.PeakR = value
	case trigRmsL:
		reading.RmsL = value
	case trigRmsR:
		reading.RmsR = value
	default:
		return fmt.Errorf("unrecognized trig_id %d", trigID)
	}
	d.pending[nodeID] = reading

	return d.Bus.Send(bus.RecordMeter{
		GroupPath: groupPath,
		PeakL:     reading.PeakL,
		PeakR:     reading.PeakR,
		RmsL:      reading.RmsL,
		RmsR:      reading.RmsR,
	})
}

func toInt32(arg any) (int32, bool) {
	switch v := arg.(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float32:
		return int32(v), true
	case float64:
		return int32(v), true
	default:
		return 0, false
	}
}

func toFloat32(arg any) (float32, bool) {
	switch v := arg.(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int32:
		return float32(v), true
	case int64:
		return float32(v), true
	default:
		return 0, false
	}
}
