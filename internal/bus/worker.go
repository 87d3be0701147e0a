package bus

import (
	"context"
	"math"
	"time"

	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/vlog"
)

const defaultCapacity = 256

var log = vlog.New("state")

// Bus is the buffered channel of pending mutations plus the store
// they apply to. Grounded on main.go's buffered-channel signaling
// pattern (e.g. scReadyMsg) generalized to a typed mutation queue.
type Bus struct {
	ch    chan Message
	store *corestate.Store
}

// New creates a Bus with the given channel capacity (0 uses the
// default of 256).
func New(store *corestate.Store, capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{ch: make(chan Message, capacity), store: store}
}

// Handle returns the public handle other actors hold.
func (b *Bus) Handle() *Handle {
	return &Handle{bus: b}
}

// Close closes the underlying channel so Worker.Run drains the
// remaining backlog and returns. Closing an already closed Bus has no
// effect.
func (b *Bus) Close() {
	defer func() { _ = recover() }()
	close(b.ch)
}

// Worker drains the Bus in FIFO order and applies each message to the
// store. There is exactly one Worker per Bus; the state actor never
// blocks on I/O.
type Worker struct {
	bus *Bus
}

// NewWorker returns a Worker for the given Bus.
func NewWorker(b *Bus) *Worker {
	return &Worker{bus: b}
}

// Run drains messages until ctx is cancelled or the channel is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.bus.ch:
			if !ok {
				return
			}
			if err := w.bus.store.WithWrite(func(s *corestate.Snapshot) error {
				return apply(s, msg)
			}); err != nil {
				log.Warnf("dropped message %T: %v", msg, err)
			}
		}
	}
}

// apply is the single dispatch point for every message kind. Unknown
// message types are a programmer error (a Message not handled here),
// reported as INVALID_ARGUMENT rather than panicking, since a future
// boundary adapter bug should degrade gracefully rather than crash the
// state actor.
func apply(s *corestate.Snapshot, msg Message) error {
	switch m := msg.(type) {
	case SetBpm:
		return applySetBpm(s, m)
	case SetTimeSignature:
		s.TimeSigNum, s.TimeSigDen = m.Numerator, m.Denominator
		return nil
	case SetQuantization:
		if m.Beats <= 0 {
			return corestate.NewError(corestate.ErrInvalidArgument, "", "quantization must be positive")
		}
		s.QuantizationBeats = m.Beats
		return nil
	case SeekTransport:
		if m.Beat < 0 {
			return corestate.NewError(corestate.ErrInvalidArgument, "", "seek beat must be non-negative")
		}
		s.CurrentBeat = m.Beat
		return nil
	case StartScheduler:
		s.TransportRunning = true
		return nil
	case StopScheduler:
		s.TransportRunning = false
		return nil

	case RegisterGroup:
		return applyRegisterGroup(s, m)
	case UnregisterGroup:
		return applyUnregisterGroup(s, m)
	case SetGroupParam:
		return applySetGroupParam(s, m)
	case MuteGroup:
		return withGroup(s, m.Path, func(g *corestate.Group) error { g.Muted = true; return nil })
	case UnmuteGroup:
		return withGroup(s, m.Path, func(g *corestate.Group) error { g.Muted = false; return nil })
	case SoloGroup:
		return withGroup(s, m.Path, func(g *corestate.Group) error { g.Soloed = m.On; return nil })

	case UpsertVoice:
		return applyUpsertVoice(s, m)
	case DeleteVoice:
		if _, ok := s.Voices[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
		}
		delete(s.Voices, m.Name)
		return nil
	case SetVoiceParam:
		return withVoice(s, m.Name, func(v *corestate.Voice) error {
			v.Defaults[m.Param] = m.Value
			return nil
		})
	case MuteVoice:
		return withVoice(s, m.Name, func(v *corestate.Voice) error { v.Muted = true; return nil })
	case UnmuteVoice:
		return withVoice(s, m.Name, func(v *corestate.Voice) error { v.Muted = false; return nil })
	case TriggerVoice:
		v, ok := s.Voices[m.Name]
		if !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
		}
		s.PendingTriggers = append(s.PendingTriggers, corestate.BeatEvent{
			SynthDef:  v.SynthDef,
			Controls:  mergedControls(v.Defaults, m.Controls),
			GroupPath: v.GroupPath,
			VoiceName: m.Name,
		})
		return nil
	case StopVoice:
		if _, ok := s.Voices[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
		}
		s.PendingTriggers = append(s.PendingTriggers, corestate.BeatEvent{
			VoiceName: m.Name,
			StopNode:  true,
		})
		return nil
	case NoteOn:
		v, ok := s.Voices[m.Name]
		if !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
		}
		controls := mergedControls(v.Defaults, nil)
		controls = append(controls, corestate.ControlPair{Name: "amp", Value: m.Velocity})
		s.PendingTriggers = append(s.PendingTriggers, corestate.BeatEvent{
			SynthDef:  v.SynthDef,
			Controls:  controls,
			GroupPath: v.GroupPath,
			VoiceName: m.Name,
			HasMidi:   true,
			Midi:      m.Midi,
		})
		return nil
	case NoteOff:
		if _, ok := s.Voices[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
		}
		s.PendingTriggers = append(s.PendingTriggers, corestate.BeatEvent{
			VoiceName: m.Name,
			HasMidi:   true,
			Midi:      m.Midi,
			StopNode:  true,
		})
		return nil

	case FadeGroupParam:
		return applyFadeGroupParam(s, m)
	case FadeVoiceParam:
		return applyFadeVoiceParam(s, m)
	case FadePatternParam:
		return applyFadeLoopParam(s, corestate.FadeTargetPattern, m.Name, m.Param, m.To, m.DurationBeats, 0)
	case FadeMelodyParam:
		return applyFadeLoopParam(s, corestate.FadeTargetMelody, m.Name, m.Param, m.To, m.DurationBeats, 0)
	case FadeEffectParam:
		return applyFadeEffectParam(s, m)

	case CreatePattern:
		return applyCreateLoop(s, m.Name, m.Body, corestate.LoopKindPattern, s.Patterns)
	case CreateMelody:
		return applyCreateLoop(s, m.Name, m.Body, corestate.LoopKindMelody, s.Melodies)
	case DeletePattern:
		return deleteLoop(s.Patterns, m.Name)
	case DeleteMelody:
		return deleteLoop(s.Melodies, m.Name)
	case StartPattern:
		return startLoop(s.Patterns, m.Name, m.StartBeat)
	case StopPattern:
		return stopLoop(s.Patterns, m.Name, m.StopBeat)
	case StartMelody:
		return startLoop(s.Melodies, m.Name, m.StartBeat)
	case StopMelody:
		return stopLoop(s.Melodies, m.Name, m.StopBeat)

	case CreateSequence:
		return applyCreateSequence(s, m)
	case DeleteSequence:
		if _, ok := s.Sequences[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such sequence")
		}
		delete(s.Sequences, m.Name)
		delete(s.ActiveSequences, m.Name)
		return nil
	case StartSequence:
		if _, ok := s.Sequences[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such sequence")
		}
		s.ActiveSequences[m.Name] = corestate.ActiveSequenceState{AnchorBeat: m.StartBeat}
		return nil
	case StopSequence:
		delete(s.ActiveSequences, m.Name)
		return nil
	case PauseSequence:
		return withActiveSequence(s, m.Name, func(a *corestate.ActiveSequenceState) error {
			a.Paused = true
			return nil
		})
	case CompleteSequence:
		return withActiveSequence(s, m.Name, func(a *corestate.ActiveSequenceState) error {
			a.Completed = true
			return nil
		})

	case AddEffect:
		return applyAddEffect(s, m)
	case RemoveEffect:
		if _, ok := s.Effects[m.Name]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such effect")
		}
		delete(s.Effects, m.Name)
		return nil
	case SetEffectParam:
		return withEffect(s, m.Name, func(e *corestate.Effect) error {
			e.Params[m.Param] = m.Value
			return nil
		})

	case LoadSample:
		s.Samples[m.ID] = corestate.Sample{ID: m.ID, Path: m.Path}
		return nil
	case FreeSample:
		if _, ok := s.Samples[m.ID]; !ok {
			return corestate.NewError(corestate.ErrEntityNotFound, m.ID, "no such sample")
		}
		delete(s.Samples, m.ID)
		return nil
	case LoadSfzInstrument:
		return applyLoadSfz(s, m)

	case CancelFade:
		key := corestate.FadeKey{TargetKind: corestate.FadeTargetKind(m.TargetKind), TargetName: m.TargetName, ParamName: m.Param}
		delete(s.ActiveFades, key)
		return nil

	case BeginReload, FinalizeReload:
		// No-op markers: internal/reload's BeginReload/FinalizeReload
		// functions work on snapshots passed to them directly, and
		// nothing in this module consumes these messages.
		return nil

	case RecordActiveSynth:
		s.ActiveSynths[m.NodeID] = corestate.ActiveSynth{NodeID: m.NodeID, VoiceNames: []string{m.VoiceName}, GroupPaths: []string{m.GroupPath}}
		if v, ok := s.Voices[m.VoiceName]; ok {
			if m.HasMidi {
				v.ActiveNotes[m.Midi] = m.NodeID
			} else {
				v.TriggerNodeID = m.NodeID
			}
			s.Voices[m.VoiceName] = v
		}
		return nil
	case ReleaseActiveSynth:
		delete(s.ActiveSynths, m.NodeID)
		for name, v := range s.Voices {
			if v.TriggerNodeID == m.NodeID {
				v.TriggerNodeID = corestate.NoActiveNode
			}
			for midi, nodeID := range v.ActiveNotes {
				if nodeID == m.NodeID {
					delete(v.ActiveNotes, midi)
				}
			}
			s.Voices[name] = v
		}
		return nil
	case ClearPendingTriggers:
		if m.N >= len(s.PendingTriggers) {
			s.PendingTriggers = nil
		} else {
			s.PendingTriggers = s.PendingTriggers[m.N:]
		}
		return nil
	case RecordMeter:
		s.LastMeters[m.GroupPath] = corestate.MeterReading{PeakL: m.PeakL, PeakR: m.PeakR, RmsL: m.RmsL, RmsR: m.RmsR, At: time.Now()}
		return nil

	case RecordFadeSend:
		key := corestate.FadeKey{TargetKind: corestate.FadeTargetKind(m.TargetKind), TargetName: m.TargetName, ParamName: m.ParamName}
		if af, ok := s.ActiveFades[key]; ok {
			v := m.Value
			af.LastSentValue = &v
			af.LastSendTime = time.Now()
			s.ActiveFades[key] = af
		}
		return nil

	default:
		return corestate.NewError(corestate.ErrInvalidArgument, "", "unhandled message type")
	}
}

func applySetBpm(s *corestate.Snapshot, m SetBpm) error {
	if m.Bpm < 20 || m.Bpm > 999 {
		return corestate.NewError(corestate.ErrInvalidArgument, "", "bpm out of range [20, 999]")
	}
	s.Tempo = m.Bpm
	return nil
}

func applyRegisterGroup(s *corestate.Snapshot, m RegisterGroup) error {
	if _, ok := s.Groups[m.Path]; ok {
		return corestate.NewError(corestate.ErrAlreadyExists, m.Path, "group already registered")
	}
	if _, ok := s.Groups[m.Parent]; !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Parent, "parent group not found")
	}
	s.Groups[m.Path] = corestate.Group{
		Path:       m.Path,
		ParentPath: m.Parent,
		NodeID:     m.NodeID,
		Params:     map[string]float32{},
	}
	parent := s.Groups[m.Parent]
	parent.Children = append(parent.Children, m.Path)
	s.Groups[m.Parent] = parent
	return nil
}

func applyUnregisterGroup(s *corestate.Snapshot, m UnregisterGroup) error {
	if m.Path == corestate.RootGroupPath {
		return corestate.NewError(corestate.ErrInvalidArgument, m.Path, "root group cannot be removed")
	}
	g, ok := s.Groups[m.Path]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Path, "no such group")
	}
	if parent, ok := s.Groups[g.ParentPath]; ok {
		parent.Children = removeString(parent.Children, m.Path)
		s.Groups[g.ParentPath] = parent
	}
	deleteGroupSubtree(s, m.Path)
	return nil
}

// deleteGroupSubtree removes path and every descendant group from
// s.Groups, so a removal never leaves a child behind with a parent
// path that no longer exists.
func deleteGroupSubtree(s *corestate.Snapshot, path string) {
	g, ok := s.Groups[path]
	if !ok {
		return
	}
	for _, child := range g.Children {
		deleteGroupSubtree(s, child)
	}
	delete(s.Groups, path)
}

func applySetGroupParam(s *corestate.Snapshot, m SetGroupParam) error {
	return withGroup(s, m.Path, func(g *corestate.Group) error {
		g.Params[m.Param] = m.Value
		return nil
	})
}

func withGroup(s *corestate.Snapshot, path string, fn func(*corestate.Group) error) error {
	g, ok := s.Groups[path]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, path, "no such group")
	}
	if err := fn(&g); err != nil {
		return err
	}
	s.Groups[path] = g
	return nil
}

func applyUpsertVoice(s *corestate.Snapshot, m UpsertVoice) error {
	if _, ok := s.Groups[m.Group]; !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Group, "group not found")
	}
	defaults := m.Defaults
	if defaults == nil {
		defaults = map[string]float32{}
	}
	v, exists := s.Voices[m.Name]
	if exists {
		v.SynthDef = m.SynthDef
		v.GroupPath = m.Group
		v.Defaults = defaults
	} else {
		v = corestate.Voice{
			Name:          m.Name,
			SynthDef:      m.SynthDef,
			GroupPath:     m.Group,
			Defaults:      defaults,
			ActiveNotes:   map[uint8]int32{},
			TriggerNodeID: corestate.NoActiveNode,
		}
	}
	s.Voices[m.Name] = v
	return nil
}

func withVoice(s *corestate.Snapshot, name string, fn func(*corestate.Voice) error) error {
	v, ok := s.Voices[name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such voice")
	}
	if err := fn(&v); err != nil {
		return err
	}
	s.Voices[name] = v
	return nil
}

func applyCreateLoop(s *corestate.Snapshot, name string, body LoopBody, kind corestate.LoopKind, table map[string]corestate.Pattern) error {
	if _, ok := table[name]; ok {
		return corestate.NewError(corestate.ErrAlreadyExists, name, "already defined")
	}
	events := make([]corestate.BeatEvent, 0, len(body.Events))
	for _, e := range body.Events {
		controls := make([]corestate.ControlPair, 0, len(e.Controls))
		for k, v := range e.Controls {
			controls = append(controls, corestate.ControlPair{Name: k, Value: v})
		}
		events = append(events, corestate.BeatEvent{
			Beat:      e.Beat,
			SynthDef:  e.SynthDef,
			Controls:  controls,
			GroupPath: e.GroupPath,
			VoiceName: e.VoiceName,
		})
	}
	table[name] = corestate.Pattern{
		Name:            name,
		Kind:            kind,
		Events:          events,
		LoopLengthBeats: body.LoopLengthBeats,
		PhaseOffset:     body.PhaseOffset,
	}
	return nil
}

func deleteLoop(table map[string]corestate.Pattern, name string) error {
	if _, ok := table[name]; !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such loop")
	}
	delete(table, name)
	return nil
}

func startLoop(table map[string]corestate.Pattern, name string, startBeat float64) error {
	p, ok := table[name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such loop")
	}
	p.Status = corestate.LoopStatus{Kind: corestate.LoopPlaying, StartBeat: startBeat}
	table[name] = p
	return nil
}

func stopLoop(table map[string]corestate.Pattern, name string, stopBeat float64) error {
	p, ok := table[name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such loop")
	}
	p.Status = corestate.LoopStatus{Kind: corestate.LoopQueuedStop, StartBeat: p.Status.StartBeat, StopBeat: stopBeat}
	table[name] = p
	return nil
}

func withActiveSequence(s *corestate.Snapshot, name string, fn func(*corestate.ActiveSequenceState) error) error {
	a, ok := s.ActiveSequences[name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "sequence not active")
	}
	if err := fn(&a); err != nil {
		return err
	}
	s.ActiveSequences[name] = a
	return nil
}

func applyCreateSequence(s *corestate.Snapshot, m CreateSequence) error {
	if _, ok := s.Sequences[m.Name]; ok {
		return corestate.NewError(corestate.ErrAlreadyExists, m.Name, "already defined")
	}
	clips := make([]corestate.SequenceClip, 0, len(m.Clips))
	for _, c := range m.Clips {
		clips = append(clips, corestate.SequenceClip{
			Start:  c.Start,
			End:    c.End,
			Source: corestate.ClipSource{Kind: corestate.ClipSourceKind(c.SourceKind), Name: c.SourceName},
			Mode:   corestate.ClipMode{Kind: corestate.ClipModeKind(c.ModeKind), Count: c.ModeCount},
		})
	}
	existing := s.Sequences[m.Name]
	s.Sequences[m.Name] = corestate.SequenceDefinition{
		Name:       m.Name,
		LoopBeats:  m.LoopBeats,
		Clips:      clips,
		Generation: existing.Generation + 1,
		PlayOnce:   m.PlayOnce,
	}
	return nil
}

func applyAddEffect(s *corestate.Snapshot, m AddEffect) error {
	if _, ok := s.Groups[m.GroupPath]; !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.GroupPath, "group not found")
	}
	if _, ok := s.Effects[m.Name]; ok {
		return corestate.NewError(corestate.ErrAlreadyExists, m.Name, "effect already exists")
	}
	params := m.Params
	if params == nil {
		params = map[string]float32{}
	}
	s.Effects[m.Name] = corestate.Effect{
		Name:      m.Name,
		SynthDef:  m.SynthDef,
		GroupPath: m.GroupPath,
		Params:    params,
		Position:  m.Position,
	}
	return nil
}

func withEffect(s *corestate.Snapshot, name string, fn func(*corestate.Effect) error) error {
	e, ok := s.Effects[name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such effect")
	}
	if err := fn(&e); err != nil {
		return err
	}
	s.Effects[name] = e
	return nil
}

func applyLoadSfz(s *corestate.Snapshot, m LoadSfzInstrument) error {
	regions := make([]corestate.SfzRegion, 0, len(m.Regions))
	for _, r := range m.Regions {
		regions = append(regions, corestate.SfzRegion{
			KeyLo: r.KeyLo, KeyHi: r.KeyHi,
			VelLo: r.VelLo, VelHi: r.VelHi,
			Trigger:     corestate.TriggerMode(r.Trigger),
			Loop:        corestate.LoopMode(r.Loop),
			BufferID:    r.BufferID,
			SeqLength:   int(math.Max(1, float64(r.SeqLength))),
			SeqPosition: r.SeqPosition,
			Params:      r.Params,
		})
	}
	s.SfzInstruments[m.Name] = regions
	return nil
}

// registerFade converts a duration in beats to seconds at the
// snapshot's current tempo and installs an ActiveFade, replacing any
// prior fade on the same (kind, target, param) key per the
// at-most-one-fade-per-target invariant.
func registerFade(s *corestate.Snapshot, kind corestate.FadeTargetKind, target, param string, from, to float32, durationBeats, delaySeconds float64) {
	secondsPerBeat := 60.0 / s.Tempo
	key := corestate.FadeKey{TargetKind: kind, TargetName: target, ParamName: param}
	s.ActiveFades[key] = corestate.ActiveFade{
		TargetKind:      kind,
		TargetName:      target,
		ParamName:       param,
		StartValue:      from,
		TargetValue:     to,
		StartTime:       time.Now(),
		DurationSeconds: durationBeats * secondsPerBeat,
		DelaySeconds:    delaySeconds,
	}
}

func applyFadeGroupParam(s *corestate.Snapshot, m FadeGroupParam) error {
	g, ok := s.Groups[m.Path]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Path, "no such group")
	}
	registerFade(s, corestate.FadeTargetGroup, m.Path, m.Param, g.Params[m.Param], m.To, m.DurationBeats, m.DelaySeconds)
	return nil
}

func applyFadeVoiceParam(s *corestate.Snapshot, m FadeVoiceParam) error {
	v, ok := s.Voices[m.Name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such voice")
	}
	registerFade(s, corestate.FadeTargetVoice, m.Name, m.Param, v.Defaults[m.Param], m.To, m.DurationBeats, m.DelaySeconds)
	return nil
}

func applyFadeLoopParam(s *corestate.Snapshot, kind corestate.FadeTargetKind, name, param string, to float32, durationBeats, delaySeconds float64) error {
	table := s.Patterns
	if kind == corestate.FadeTargetMelody {
		table = s.Melodies
	}
	if _, ok := table[name]; !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, name, "no such loop")
	}
	registerFade(s, kind, name, param, 0, to, durationBeats, delaySeconds)
	return nil
}

func applyFadeEffectParam(s *corestate.Snapshot, m FadeEffectParam) error {
	e, ok := s.Effects[m.Name]
	if !ok {
		return corestate.NewError(corestate.ErrEntityNotFound, m.Name, "no such effect")
	}
	registerFade(s, corestate.FadeTargetEffect, m.Name, m.Param, e.Params[m.Param], m.To, m.DurationBeats, 0)
	return nil
}

// mergedControls layers override on top of defaults, producing the
// control set a voice trigger actually sends: every default, with any
// name present in override replaced.
func mergedControls(defaults map[string]float32, override map[string]float32) []corestate.ControlPair {
	out := make([]corestate.ControlPair, 0, len(defaults)+len(override))
	for name, val := range defaults {
		if ov, ok := override[name]; ok {
			val = ov
		}
		out = append(out, corestate.ControlPair{Name: name, Value: val})
	}
	for name, val := range override {
		if _, ok := defaults[name]; ok {
			continue
		}
		out = append(out, corestate.ControlPair{Name: name, Value: val})
	}
	return out
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
