// ABOUTME: Oto playback device driven by oto's pull-based player
// ABOUTME: Each player read is one consumer callback
package device

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/liscio/playthrough-go/pkg/audio"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
	"go.uber.org/zap"
)

// oto allows one context per process
var (
	otoOnce    sync.Once
	otoCtx     *oto.Context
	otoErr     error
	otoOptions oto.NewContextOptions
)

func sharedOtoContext(opts oto.NewContextOptions) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&opts)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoOptions = opts
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoOptions.SampleRate != opts.SampleRate || otoOptions.ChannelCount != opts.ChannelCount {
		return nil, fmt.Errorf("oto context already open at %dHz/%dch", otoOptions.SampleRate, otoOptions.ChannelCount)
	}
	return otoCtx, nil
}

// Oto is a playback-only device
type Oto struct {
	format       audio.Format
	periodFrames int
	periods      int
	logger       *zap.Logger

	mu     sync.Mutex
	player *oto.Player

	clock    *clock
	callback callbackSlot
	events   *eventQueue
}

// NewOto opens the shared oto context for float32 playback
func NewOto(sampleRate, channels, periodFrames, periods int, logger *zap.Logger) (*Oto, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if periods < 1 {
		periods = 2
	}

	ctx, err := sharedOtoContext(oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}

	o := &Oto{
		format:       audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: 32},
		periodFrames: periodFrames,
		periods:      periods,
		logger:       logger.With(zap.String("device", "playback")),
		clock:        newClock(sampleRate, streamsync.NewRateEstimator(float64(sampleRate), logger)),
		events:       newEventQueue("oto"),
	}
	o.player = ctx.NewPlayer(o)
	o.player.SetBufferSize(periodFrames * periods * o.format.BytesPerFrame())

	o.logger.Info("Audio device initialized",
		zap.String("name", o.Name()),
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels))
	return o, nil
}

// Read is called by the oto player; it never reports EOF
func (o *Oto) Read(p []byte) (int, error) {
	frames := len(p) / o.format.BytesPerFrame()
	if frames == 0 {
		return 0, nil
	}
	out := p[:frames*o.format.BytesPerFrame()]
	ts := o.clock.tick(frames)

	cb := o.callback.get()
	if cb == nil {
		clear(out)
	} else {
		cb(nil, out, frames, ts)
	}
	return len(out), nil
}

func (o *Oto) Name() string         { return "oto" }
func (o *Oto) Direction() Direction { return Playback }
func (o *Oto) Format() audio.Format { return o.format }
func (o *Oto) PeriodFrames() int    { return o.periodFrames }
func (o *Oto) Events() <-chan Event { return o.events.ch }

// Latency counts the player's buffer beyond one period as the safety offset
func (o *Oto) Latency() streamsync.Latency {
	return streamsync.Latency{
		SafetyOffset: o.periodFrames * (o.periods - 1),
		BufferFrames: o.periodFrames,
	}
}

func (o *Oto) CurrentTime() (Timestamp, error) {
	return o.clock.now()
}

func (o *Oto) SetCallback(cb Callback) {
	o.callback.set(cb)
}

func (o *Oto) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return fmt.Errorf("playback device closed")
	}
	o.clock.reset()
	o.clock.running.Store(true)
	o.player.Play()
	return nil
}

func (o *Oto) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return nil
	}
	o.player.Pause()
	o.clock.running.Store(false)
	o.events.send(EventStopped)
	return nil
}

func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return nil
	}
	o.clock.running.Store(false)
	err := o.player.Close()
	o.player = nil
	return err
}
