// Command vibecore runs the core runtime: the transport clock, state
// store, bus worker, scheduler, sequence expander, fade engine, and
// the OSC/MIDI boundary adapters, wired together by internal/runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/oscclient"
	"github.com/schollz/vibecore/internal/runtime"
	"github.com/schollz/vibecore/internal/vlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := runtime.DefaultConfig()
	var debugLog string
	var midiDeviceName string
	var midiVoiceName string

	cmd := &cobra.Command{
		Use:   "vibecore",
		Short: "Runs the live-coding core runtime against an OSC-controlled audio engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			closer, err := vlog.Setup(debugLog)
			if err != nil {
				return fmt.Errorf("opening debug log: %w", err)
			}
			defer closer.Close()

			cfg.MIDIDeviceName = midiDeviceName
			return run(cfg, midiVoiceName)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.OSCHost, "osc-host", cfg.OSCHost, "engine OSC host")
	flags.IntVar(&cfg.OSCPort, "osc-port", cfg.OSCPort, "engine OSC send port")
	flags.IntVar(&cfg.OSCReceivePort, "osc-receive-port", cfg.OSCReceivePort, "port to receive engine status/meter messages on")
	flags.Int64Var(&cfg.LookaheadMs, "lookahead-ms", cfg.LookaheadMs, "scheduler lookahead window in milliseconds")
	flags.IntVar(&cfg.SchedulerTickMs, "scheduler-tick-ms", cfg.SchedulerTickMs, "scheduler tick interval in milliseconds")
	flags.IntVar(&cfg.FadeTickMs, "fade-tick-ms", cfg.FadeTickMs, "fade engine tick interval in milliseconds")
	flags.Int64Var(&cfg.FadeThrottleMs, "fade-throttle-ms", cfg.FadeThrottleMs, "minimum time between repeated fade sends to the same target")
	flags.Float32Var(&cfg.FadeDeadband, "fade-deadband", cfg.FadeDeadband, "minimum value change that forces a fade send within the throttle window")
	flags.IntVar(&cfg.OutputLatencyMs, "output-latency-ms", cfg.OutputLatencyMs, "extra latency added to every outbound OSC bundle's timetag")
	flags.Float64Var(&cfg.DefaultQuantization, "quantization-beats", cfg.DefaultQuantization, "default reload-removal quantization, in beats")
	flags.Float64Var(&cfg.BPM, "bpm", cfg.BPM, "starting tempo")
	flags.IntVar(&cfg.TimeSigNum, "time-sig-num", cfg.TimeSigNum, "time signature numerator")
	flags.IntVar(&cfg.TimeSigDen, "time-sig-den", cfg.TimeSigDen, "time signature denominator")
	flags.StringVar(&debugLog, "debug", "", "if set, write debug logs to this file; empty disables logging")
	flags.StringVar(&midiDeviceName, "midi-device", "", "MIDI input device name to route into the core; empty disables MIDI input")
	flags.StringVar(&midiVoiceName, "midi-voice", "", "voice name MIDI note traffic is routed to")

	return cmd
}

// groupForNode resolves an engine node id to the group path its link
// synth belongs to, by reading the store's ActiveSynths, for the
// meter decoder to attribute /tr messages back to a group.
func groupForNode(rt *runtime.Runtime) func(int32) (string, bool) {
	return func(nodeID int32) (string, bool) {
		var path string
		var ok bool
		rt.Handle().WithRead(func(snap corestate.Snapshot) {
			synth, found := snap.ActiveSynths[nodeID]
			if !found || len(synth.GroupPaths) == 0 {
				return
			}
			path, ok = synth.GroupPaths[0], true
		})
		return path, ok
	}
}

func run(cfg runtime.Config, midiVoiceName string) error {
	client := oscclient.NewUDPSender(cfg.OSCHost, cfg.OSCPort)
	rt := runtime.New(cfg, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.Run(ctx)
	rt.OSCReceiver(ctx, fmt.Sprintf(":%d", cfg.OSCReceivePort), groupForNode(rt))

	if cfg.MIDIDeviceName != "" {
		if err := rt.MIDIInput(ctx, cfg.MIDIDeviceName, midiVoiceName, nil); err != nil {
			return fmt.Errorf("starting MIDI input: %w", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-sig

	cancel()
	rt.Shutdown()
	return nil
}
