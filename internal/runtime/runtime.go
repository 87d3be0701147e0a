// Package runtime wires every actor of the core together: the state
// actor, the scheduler tick, the fade tick, the OSC receiver, and the
// MIDI input router, each as its own goroutine over a shared
// context.Context, so a single cancellation stops every actor
// cleanly.
package runtime

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/dispatch"
	"github.com/schollz/vibecore/internal/fade"
	"github.com/schollz/vibecore/internal/meter"
	"github.com/schollz/vibecore/internal/midiio"
	"github.com/schollz/vibecore/internal/oscclient"
	"github.com/schollz/vibecore/internal/scheduler"
	"github.com/schollz/vibecore/internal/sequence"
	"github.com/schollz/vibecore/internal/timing"
	"github.com/schollz/vibecore/internal/vlog"
)

var log = vlog.New("runtime")

// Config holds every knob cmd/vibecore populates from flags.
type Config struct {
	OSCHost                string
	OSCPort                int
	OSCReceivePort         int
	LookaheadMs            int64
	SchedulerTickMs        int
	FadeTickMs             int
	FadeThrottleMs         int64
	FadeDeadband           float32
	OutputLatencyMs        int
	DefaultQuantization    float64
	MIDIDeviceName         string
	BPM                    float64
	TimeSigNum, TimeSigDen int
}

// DefaultConfig returns sensible defaults: 10ms scheduler tick, 8ms
// fade tick, 120 BPM / 4/4 transport.
func DefaultConfig() Config {
	return Config{
		OSCHost:             "127.0.0.1",
		OSCPort:             57110,
		OSCReceivePort:      57111,
		LookaheadMs:         100,
		SchedulerTickMs:     10,
		FadeTickMs:          8,
		FadeThrottleMs:      20,
		FadeDeadband:        0.001,
		OutputLatencyMs:     20,
		DefaultQuantization: 4.0,
		BPM:                 120.0,
		TimeSigNum:          4,
		TimeSigDen:          4,
	}
}

// Runtime owns every actor and the collaborators they share.
type Runtime struct {
	Config Config

	Store      *corestate.Store
	Bus        *bus.Bus
	Clock      *timing.Clock
	Scheduler  *scheduler.Scheduler
	Expander   *sequence.Expander
	Fades      *fade.Engine
	Dispatcher *dispatch.Dispatcher
	Client     oscclient.Sender
	MIDI       *midiio.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Runtime from cfg. It does not start any goroutines;
// call Run for that.
func New(cfg Config, client oscclient.Sender) *Runtime {
	store := corestate.NewStore()
	store.WithWrite(func(s *corestate.Snapshot) error {
		s.Tempo = cfg.BPM
		s.TimeSigNum = cfg.TimeSigNum
		s.TimeSigDen = cfg.TimeSigDen
		s.QuantizationBeats = cfg.DefaultQuantization
		return nil
	})

	b := bus.New(store, 256)
	clock := timing.New(cfg.BPM, cfg.TimeSigNum, cfg.TimeSigDen)
	fades := fade.New()
	dispatcher := dispatch.NewDispatcher(clock, time.Duration(cfg.OutputLatencyMs)*time.Millisecond, client, fades, b.Handle(), store)

	return &Runtime{
		Config:     cfg,
		Store:      store,
		Bus:        b,
		Clock:      clock,
		Scheduler:  scheduler.New(),
		Expander:   sequence.NewExpander(),
		Fades:      fades,
		Dispatcher: dispatcher,
		Client:     client,
		MIDI:       midiio.NewRegistry(),
	}
}

// Handle returns the bus handle external collaborators (a future HTTP
// layer, the MIDI boundary, a script evaluator) use to mutate state —
// the entire surface an outer front end needs.
func (r *Runtime) Handle() *bus.Handle { return r.Bus.Handle() }

// Run starts every actor as a goroutine and returns immediately; call
// Shutdown to stop them.
func (r *Runtime) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.Clock.Start()

	r.wg.Add(1)
	go r.runStateActor(ctx)

	r.wg.Add(1)
	go r.runSchedulerTick(ctx)

	r.wg.Add(1)
	go r.runFadeTick(ctx)
}

// runStateActor runs bus.Worker.Run, which is fatal-on-panic: a panic
// here means the store's invariants can no longer be trusted, so it is
// recovered once, logged with a stack trace, and the process exits
// rather than continuing with the other actors running unattended.
func (r *Runtime) runStateActor(ctx context.Context) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("state actor panicked: %v\n%s", rec, debug.Stack())
			panic(rec)
		}
	}()
	bus.NewWorker(r.Bus).Run(ctx)
}

// runSchedulerTick reads a snapshot, expands active sequences and
// directly-playing loops, collects due events, and dispatches them.
// Each tick is wrapped in its own recover so scheduler problems never
// take other actors down — other actors restart independently.
func (r *Runtime) runSchedulerTick(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.Config.SchedulerTickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tickSafely(now)
		}
	}
}

func (r *Runtime) tickSafely(now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("scheduler tick panicked: %v\n%s", rec, debug.Stack())
		}
	}()

	snap := r.Store.Snapshot()
	loops, oneShot := r.activeLoops(snap, now)

	current := r.Clock.BeatAt(now)
	var triggers []corestate.BeatEvent
	if len(snap.PendingTriggers) > 0 {
		for _, ev := range snap.PendingTriggers {
			ev.Beat = current
			triggers = append(triggers, ev)
		}
		if err := r.Bus.Handle().Send(bus.ClearPendingTriggers{N: len(snap.PendingTriggers)}); err != nil {
			log.Warnf("clearing pending triggers: %v", err)
		}
	}

	batches := r.Scheduler.CollectDueEvents(r.Clock, now, loops, oneShot, r.Config.LookaheadMs)
	if len(triggers) > 0 {
		// CollectDueEvents only merges one-shots strictly after the
		// current beat, so live triggers go out as their own batch.
		batches = append([]scheduler.BeatBatch{{Beat: current, Events: triggers}}, batches...)
	}
	if len(batches) == 0 {
		return
	}
	if err := r.Dispatcher.Dispatch(batches); err != nil {
		log.Warnf("dispatch failed: %v", err)
	}
}

// activeLoops gathers every loop the scheduler should consider this
// tick: patterns/melodies started directly, plus every loop an active
// sequence expands into for the cycle(s) its timeline is in as of now.
func (r *Runtime) activeLoops(snap corestate.Snapshot, now time.Time) ([]scheduler.LoopSnapshot, []scheduler.ScheduledEvent) {
	var loops []scheduler.LoopSnapshot
	var oneShot []scheduler.ScheduledEvent

	// A queued stop bounds the loop at its stop beat; a stop beat at or
	// before zero drops the loop at once.
	stopAt := func(st corestate.LoopStatus) (float64, bool) {
		if st.Kind != corestate.LoopQueuedStop {
			return 0, st.Kind != corestate.LoopStopped
		}
		return st.StopBeat, st.StopBeat > 0
	}

	for name, p := range snap.Patterns {
		end, live := stopAt(p.Status)
		if !live {
			continue
		}
		loops = append(loops, scheduler.LoopSnapshot{Name: name, Kind: scheduler.LoopKindPattern, Pattern: p, StartBeat: p.Status.StartBeat, EndBeat: end})
	}
	for name, p := range snap.Melodies {
		end, live := stopAt(p.Status)
		if !live {
			continue
		}
		loops = append(loops, scheduler.LoopSnapshot{Name: name, Kind: scheduler.LoopKindMelody, Pattern: p, StartBeat: p.Status.StartBeat, EndBeat: end})
	}

	resolve := func(kind corestate.ClipSourceKind, name string) (any, bool) {
		switch kind {
		case corestate.ClipSourcePattern:
			p, ok := snap.Patterns[name]
			return p, ok
		case corestate.ClipSourceMelody:
			p, ok := snap.Melodies[name]
			return p, ok
		case corestate.ClipSourceFade:
			f, ok := snap.Fades[name]
			return f, ok
		case corestate.ClipSourceSequence:
			s, ok := snap.Sequences[name]
			return s, ok
		default:
			return nil, false
		}
	}

	current := r.Clock.BeatAt(now)
	windowEnd := current + r.Clock.LookaheadBeats(r.Config.LookaheadMs)

	for name, active := range snap.ActiveSequences {
		if active.Paused || active.Completed {
			continue
		}
		def, ok := snap.Sequences[name]
		if !ok {
			continue
		}
		childLoops, childOneShot, completed := r.Expander.Expand(def, active.AnchorBeat, current, windowEnd, active, resolve)
		for _, cl := range childLoops {
			loops = append(loops, cl.Snapshot)
		}
		oneShot = append(oneShot, childOneShot...)
		if completed {
			if err := r.Bus.Handle().Send(bus.CompleteSequence{Name: name}); err != nil {
				log.Warnf("marking sequence %q complete: %v", name, err)
			}
		}
	}

	return loops, oneShot
}

// runFadeTick ticks the fade engine and sends each emission both to
// the engine (via the OSC client) and back onto the bus so the store
// records the last-sent value.
func (r *Runtime) runFadeTick(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.Config.FadeTickMs) * time.Millisecond)
	defer ticker.Stop()

	throttle := time.Duration(r.Config.FadeThrottleMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.fadeTickSafely(now, throttle)
		}
	}
}

func (r *Runtime) fadeTickSafely(now time.Time, throttle time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("fade tick panicked: %v\n%s", rec, debug.Stack())
		}
	}()

	emissions := r.Fades.Tick(now, throttle, r.Config.FadeDeadband)
	for _, em := range emissions {
		args := []any{int32(0), em.Target.ParamName, em.Value}
		if err := r.Client.SendBundle(oscclient.Bundle{At: now, Commands: []oscclient.Command{{Address: "/n_set", Args: args}}}); err != nil {
			log.Warnf("fade send failed: %v", err)
		}
		fadeSend := bus.RecordFadeSend{
			TargetKind: int(em.Target.TargetKind),
			TargetName: em.Target.TargetName,
			ParamName:  em.Target.ParamName,
			Value:      em.Value,
		}
		if err := r.Bus.Handle().Send(fadeSend); err != nil {
			log.Warnf("fade record dropped: %v", err)
		}
	}
}

// OSCReceiver starts the inbound OSC server (meter ingest) on its own
// goroutine. groupForNode resolves an engine node id to the group
// whose link synth produced it.
func (r *Runtime) OSCReceiver(ctx context.Context, addr string, groupForNode func(nodeID int32) (string, bool)) {
	dispatcher := osc.NewStandardDispatcher()
	decoder := meter.NewDecoder(r.Bus.Handle(), groupForNode)
	decoder.Register(dispatcher)

	// go-osc's Server has no graceful Close, so this goroutine is not
	// joined by Shutdown — it runs until process exit.
	server := &osc.Server{Addr: addr, Dispatcher: dispatcher}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Errorf("OSC receiver stopped: %v", err)
		}
	}()
}

// MIDIInput starts a Router listening on deviceName until ctx is
// cancelled.
func (r *Runtime) MIDIInput(ctx context.Context, deviceName, voiceName string, ccMappings []midiio.CCMapping) error {
	router := midiio.NewRouter(r.Bus.Handle(), voiceName, ccMappings)
	if err := router.Listen(deviceName); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-ctx.Done()
		router.Close()
	}()
	return nil
}

// Resync walks every Group/Voice/Effect in a fresh snapshot and
// re-emits the OSC messages that created them — replaying the current
// snapshot to the engine recovers the session after an
// unreachable-engine streak. ActiveSynths are not replayed.
func (r *Runtime) Resync() error {
	snap := r.Store.Snapshot()

	for path, g := range snap.Groups {
		args := []any{g.NodeID, int32(0), int32(0)}
		if err := r.Client.SendBundle(oscclient.Bundle{At: time.Now(), Commands: []oscclient.Command{{Address: "/g_new", Args: args}}}); err != nil {
			return err
		}
		_ = path
	}
	for _, v := range snap.Voices {
		args := []any{v.SynthDef, int32(-1), int32(0), int32(0)}
		for name, val := range v.Defaults {
			args = append(args, name, val)
		}
		if err := r.Client.SendBundle(oscclient.Bundle{At: time.Now(), Commands: []oscclient.Command{{Address: "/s_new", Args: args}}}); err != nil {
			return err
		}
	}
	for _, eff := range snap.Effects {
		args := []any{eff.SynthDef, eff.NodeID, int32(0), int32(0)}
		if err := r.Client.SendBundle(oscclient.Bundle{At: time.Now(), Commands: []oscclient.Command{{Address: "/s_new", Args: args}}}); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown cancels every actor's context, waits for them to exit, and
// then closes the bus; messages still buffered on the bus when the
// state actor stops are not applied. Safe to call more than once.
func (r *Runtime) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.Bus.Close()
	r.Clock.Stop()
	r.MIDI.Close()
	if r.Client != nil {
		r.Client.Close()
	}
}
