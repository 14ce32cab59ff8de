// ABOUTME: Malgo (miniaudio) capture and playback devices
// ABOUTME: Float32 callbacks, estimated rate scalar, stop callback as device change
package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/liscio/playthrough-go/pkg/audio"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
	"go.uber.org/zap"
)

// MalgoConfig selects and sizes a miniaudio device
type MalgoConfig struct {
	Direction Direction
	// DeviceName matches a device by name substring; empty selects the default
	DeviceName   string
	SampleRate   int
	Channels     int
	PeriodFrames int
	Periods      int
}

// Malgo is a miniaudio device
type Malgo struct {
	cfg    MalgoConfig
	name   string
	logger *zap.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	clock    *clock
	callback callbackSlot
	events   *eventQueue
	stopping atomic.Bool
}

// NewMalgo initializes a miniaudio context and device. The device is not
// started.
func NewMalgo(cfg MalgoConfig, logger *zap.Logger) (*Malgo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Periods < 1 {
		cfg.Periods = 2
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	m := &Malgo{
		cfg:      cfg,
		logger:   logger.With(zap.String("device", cfg.Direction.String())),
		malgoCtx: malgoCtx,
		clock:    newClock(cfg.SampleRate, streamsync.NewRateEstimator(float64(cfg.SampleRate), logger)),
	}

	if err := m.initDevice(); err != nil {
		m.freeContext()
		return nil, err
	}
	m.events = newEventQueue(m.name)

	m.logger.Info("Audio device initialized",
		zap.String("name", m.name),
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("channels", cfg.Channels),
		zap.Int("period_frames", cfg.PeriodFrames),
		zap.Int("periods", cfg.Periods))

	return m, nil
}

func (m *Malgo) initDevice() error {
	kind := malgo.Capture
	if m.cfg.Direction == Playback {
		kind = malgo.Playback
	}

	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.PeriodFrames)
	deviceConfig.Periods = uint32(m.cfg.Periods)
	deviceConfig.Alsa.NoMMap = 1

	m.name = "default " + m.cfg.Direction.String()
	if m.cfg.DeviceName != "" {
		info, err := m.findDevice(kind)
		if err != nil {
			return err
		}
		m.name = info.Name()
		if kind == malgo.Capture {
			deviceConfig.Capture.DeviceID = info.ID.Pointer()
		} else {
			deviceConfig.Playback.DeviceID = info.ID.Pointer()
		}
	}

	if kind == malgo.Capture {
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	} else {
		deviceConfig.Playback.Format = malgo.FormatF32
		deviceConfig.Playback.Channels = uint32(m.cfg.Channels)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onStop,
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize %s device: %w", m.cfg.Direction, err)
	}
	m.device = device
	return nil
}

func (m *Malgo) findDevice(kind malgo.DeviceType) (malgo.DeviceInfo, error) {
	infos, err := m.malgoCtx.Devices(kind)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == m.cfg.DeviceName || strings.Contains(info.Name(), m.cfg.DeviceName) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("audio device %q not found", m.cfg.DeviceName)
}

// onData runs on the miniaudio thread
func (m *Malgo) onData(out, in []byte, frameCount uint32) {
	frames := int(frameCount)
	ts := m.clock.tick(frames)

	cb := m.callback.get()
	if cb == nil {
		clear(out)
		return
	}
	cb(in, out, frames, ts)
}

// onStop fires for requested stops and for devices that disappear
func (m *Malgo) onStop() {
	m.clock.running.Store(false)
	if m.stopping.Load() {
		m.events.send(EventStopped)
		return
	}
	m.events.send(EventDeviceChanged)
}

func (m *Malgo) Name() string         { return m.name }
func (m *Malgo) Direction() Direction { return m.cfg.Direction }
func (m *Malgo) PeriodFrames() int    { return m.cfg.PeriodFrames }
func (m *Malgo) Events() <-chan Event { return m.events.ch }

func (m *Malgo) Format() audio.Format {
	return audio.Format{SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels, BitDepth: 32}
}

// Latency treats the queued periods beyond the first as the safety offset
func (m *Malgo) Latency() streamsync.Latency {
	return streamsync.Latency{
		SafetyOffset: m.cfg.PeriodFrames * (m.cfg.Periods - 1),
		BufferFrames: m.cfg.PeriodFrames,
	}
}

func (m *Malgo) CurrentTime() (Timestamp, error) {
	return m.clock.now()
}

func (m *Malgo) SetCallback(cb Callback) {
	m.callback.set(cb)
}

func (m *Malgo) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return fmt.Errorf("%s device closed", m.cfg.Direction)
	}

	m.stopping.Store(false)
	m.clock.reset()
	m.clock.running.Store(true)
	if err := m.device.Start(); err != nil {
		m.clock.running.Store(false)
		return fmt.Errorf("failed to start %s device: %w", m.cfg.Direction, err)
	}
	return nil
}

func (m *Malgo) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}

	m.stopping.Store(true)
	m.clock.running.Store(false)
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s device: %w", m.cfg.Direction, err)
	}
	return nil
}

func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.stopping.Store(true)
		if err := m.device.Stop(); err != nil {
			m.logger.Warn("Device stop error", zap.Error(err))
		}
		m.device.Uninit()
		m.device = nil
	}
	m.freeContext()
	return nil
}

func (m *Malgo) freeContext() {
	if m.malgoCtx == nil {
		return
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		m.logger.Warn("Malgo context uninit error", zap.Error(err))
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
}
