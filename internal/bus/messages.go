// Package bus implements the mutation protocol: every change to the
// state store flows through the bus as a typed Message, applied in
// FIFO order by a single Worker goroutine. External callers (a script
// evaluator, a future HTTP layer, the MIDI boundary) only ever see the
// Handle type and never touch the Store directly.
package bus

// Message is a marker interface over the closed set of mutation kinds.
// The set is fixed by protocol, so a type switch in Worker.apply is the
// idiomatic dispatch, not an expanding interface tree.
type Message interface {
	isMessage()
}

type marker struct{}

func (marker) isMessage() {}

// --- Transport ---

type SetBpm struct {
	marker
	Bpm float64
}

type SetTimeSignature struct {
	marker
	Numerator, Denominator int
}

type SetQuantization struct {
	marker
	Beats float64
}

type SeekTransport struct {
	marker
	Beat float64
}

type StartScheduler struct{ marker }

type StopScheduler struct{ marker }

// --- Group ---

type RegisterGroup struct {
	marker
	Name       string
	Path       string
	Parent     string
	NodeID     int32
	SourceLoc  string
}

type UnregisterGroup struct {
	marker
	Path string
}

type SetGroupParam struct {
	marker
	Path  string
	Param string
	Value float32
}

type FadeGroupParam struct {
	marker
	Path          string
	Param         string
	To            float32
	DurationBeats float64
	DelaySeconds  float64
}

type MuteGroup struct {
	marker
	Path string
}

type UnmuteGroup struct {
	marker
	Path string
}

type SoloGroup struct {
	marker
	Path string
	On   bool
}

// --- Voice ---

type UpsertVoice struct {
	marker
	Name      string
	SynthDef  string
	Group     string
	Defaults  map[string]float32
	SourceLoc string
}

type DeleteVoice struct {
	marker
	Name string
}

type SetVoiceParam struct {
	marker
	Name  string
	Param string
	Value float32
}

type FadeVoiceParam struct {
	marker
	Name          string
	Param         string
	To            float32
	DurationBeats float64
	DelaySeconds  float64
}

type TriggerVoice struct {
	marker
	Name     string
	Controls map[string]float32
}

type StopVoice struct {
	marker
	Name string
}

type NoteOn struct {
	marker
	Name     string
	Midi     uint8
	Velocity float32
}

type NoteOff struct {
	marker
	Name string
	Midi uint8
}

type MuteVoice struct {
	marker
	Name string
}

type UnmuteVoice struct {
	marker
	Name string
}

// --- Pattern / Melody ---

// LoopBody is the shared shape of a pattern or melody body, used by
// both CreatePattern and CreateMelody.
type LoopBody struct {
	Events          []BeatEventSpec
	LoopLengthBeats float64
	PhaseOffset     float64
}

// BeatEventSpec is the wire shape of one event inside a loop body.
type BeatEventSpec struct {
	Beat      float64
	SynthDef  string
	Controls  map[string]float32
	GroupPath string
	VoiceName string
}

type CreatePattern struct {
	marker
	Name string
	Body LoopBody
}

type CreateMelody struct {
	marker
	Name string
	Body LoopBody
}

type DeletePattern struct {
	marker
	Name string
}

type DeleteMelody struct {
	marker
	Name string
}

type FadePatternParam struct {
	marker
	Name          string
	Param         string
	To            float32
	DurationBeats float64
}

type FadeMelodyParam struct {
	marker
	Name          string
	Param         string
	To            float32
	DurationBeats float64
}

type StartPattern struct {
	marker
	Name      string
	StartBeat float64
}

type StopPattern struct {
	marker
	Name     string
	StopBeat float64
}

type StartMelody struct {
	marker
	Name      string
	StartBeat float64
}

type StopMelody struct {
	marker
	Name     string
	StopBeat float64
}

// --- Sequence ---

type CreateSequence struct {
	marker
	Name      string
	LoopBeats float64
	Clips     []ClipSpec
	PlayOnce  bool
}

// ClipSpec is the wire shape of one sequence clip.
type ClipSpec struct {
	Start, End float64
	SourceKind int // corestate.ClipSourceKind
	SourceName string
	ModeKind   int // corestate.ClipModeKind
	ModeCount  int64
}

type DeleteSequence struct {
	marker
	Name string
}

type StartSequence struct {
	marker
	Name      string
	StartBeat float64
}

type StopSequence struct {
	marker
	Name string
}

type PauseSequence struct {
	marker
	Name string
}

// CompleteSequence marks a PlayOnce sequence's single iteration as
// elapsed, so the scheduler stops expanding it. Sent by the scheduler
// tick rather than the state actor itself, since only the expander
// knows when a sequence's timeline has finished one full cycle.
type CompleteSequence struct {
	marker
	Name string
}

// --- Effect ---

type AddEffect struct {
	marker
	Name      string
	SynthDef  string
	GroupPath string
	Position  int
	Params    map[string]float32
}

type RemoveEffect struct {
	marker
	Name string
}

type SetEffectParam struct {
	marker
	Name  string
	Param string
	Value float32
}

type FadeEffectParam struct {
	marker
	Name          string
	Param         string
	To            float32
	DurationBeats float64
}

// --- Sample / SFZ ---

type LoadSample struct {
	marker
	ID   string
	Path string
}

type FreeSample struct {
	marker
	ID string
}

type LoadSfzInstrument struct {
	marker
	Name   string
	Regions []SfzRegionSpec
}

// SfzRegionSpec is the wire shape of one SFZ region.
type SfzRegionSpec struct {
	KeyLo, KeyHi uint8
	VelLo, VelHi uint8
	Trigger      int // corestate.TriggerMode
	Loop         int // corestate.LoopMode
	BufferID     string
	SeqLength    int
	SeqPosition  int
	Params       map[string]float32
}

// --- Fade control ---

type CancelFade struct {
	marker
	TargetKind int // corestate.FadeTargetKind
	TargetName string
	Param      string
}

// --- Reload ---

type BeginReload struct{ marker }

type FinalizeReload struct{ marker }

// --- Internal feedback (dispatcher -> state) ---

// RecordActiveSynth records the engine node id returned for a
// NoteOn/TriggerVoice event, so subsequent NoteOff/StopVoice messages
// can address it. This is how the dispatcher writes its result back
// into the store.
type RecordActiveSynth struct {
	marker
	NodeID    int32
	VoiceName string
	GroupPath string
	// HasMidi and Midi identify the note this node was triggered for;
	// HasMidi is false for a bare TriggerVoice rather than a NoteOn.
	HasMidi bool
	Midi    uint8
}

type ReleaseActiveSynth struct {
	marker
	NodeID int32
}

// ClearPendingTriggers trims N already-dispatched entries off the
// front of Snapshot.PendingTriggers. N is the queue length the
// scheduler tick observed when it drained the queue; trimming by
// count rather than clearing outright means a trigger enqueued after
// that tick's snapshot was taken is never dropped.
type ClearPendingTriggers struct {
	marker
	N int
}

// RecordMeter stores the latest peak/RMS reading for a group, fed by
// the meter boundary adapter.
type RecordMeter struct {
	marker
	GroupPath    string
	PeakL, PeakR float32
	RmsL, RmsR   float32
}

// RecordFadeSend updates the store's view of the last value a fade
// tick actually sent to the engine, the state-side half of the fade
// tick's two-destination write.
type RecordFadeSend struct {
	marker
	TargetKind int // corestate.FadeTargetKind
	TargetName string
	ParamName  string
	Value      float32
}
