// ABOUTME: Drift experiment on simulated devices
// ABOUTME: Runs the engine with skewed clocks and prints offset and miss counts
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/liscio/playthrough-go/internal/device"
	"github.com/liscio/playthrough-go/internal/playthrough"
	"github.com/liscio/playthrough-go/pkg/audio/source"
	"go.uber.org/zap"
)

var (
	inputSkew  = flag.Float64("input-skew", 1.001, "Capture clock speed relative to nominal")
	outputSkew = flag.Float64("output-skew", 1.0, "Playback clock speed relative to nominal")
	sampleRate = flag.Int("rate", 48000, "Sample rate in Hz")
	period     = flag.Int("period", 256, "Period in frames")
	duration   = flag.Duration("duration", 10*time.Second, "How long to run")
	interval   = flag.Duration("interval", time.Second, "Report interval")
	verbose    = flag.Bool("v", false, "Log engine events")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
	}

	fmt.Println("=== Play-through Drift Simulation ===")
	fmt.Printf("Capture skew %.5f, playback skew %.5f, %d Hz, %d-frame periods\n",
		*inputSkew, *outputSkew, *sampleRate, *period)
	fmt.Println()

	in, out := device.NewSimPair(device.Options{
		SampleRate:   *sampleRate,
		Channels:     2,
		PeriodFrames: *period,
		Periods:      3,
		Source:       source.NewTone(*sampleRate, 2, source.DefaultFrequency),
		InputSkew:    *inputSkew,
		OutputSkew:   *outputSkew,
	}, false, logger)

	engine, err := playthrough.NewEngine(playthrough.DefaultConfig(), in, out, logger)
	if err != nil {
		log.Fatalf("Engine error: %v", err)
	}
	defer engine.Close()

	if err := engine.Start(); err != nil {
		log.Fatalf("Start error: %v", err)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	deadline := time.After(*duration)

	fmt.Printf("%-8s %-9s %10s %10s %8s %8s %8s\n", "time", "state", "offset", "ratio", "ok%", "behind", "ahead")
	start := time.Now()
	for {
		select {
		case <-ticker.C:
			report(time.Since(start), engine.Stats())
		case <-deadline:
			report(time.Since(start), engine.Stats())
			log.Printf("Simulation complete")
			return
		}
	}
}

func report(elapsed time.Duration, s playthrough.Stats) {
	okPct := 0.0
	if s.Fetches > 0 {
		okPct = 100 * float64(s.OKFetches) / float64(s.Fetches)
	}
	fmt.Printf("%-8s %-9s %10d %10.6f %7.2f%% %8d %8d\n",
		elapsed.Round(time.Second), s.Sync.State, s.Sync.Offset, s.Sync.RateRatio,
		okPct, s.Sync.BehindMisses, s.Sync.AheadMisses)
}
