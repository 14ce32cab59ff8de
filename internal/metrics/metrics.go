// ABOUTME: Prometheus collectors for the play-through engine
// ABOUTME: Ring buffer and synchronizer counters plus live gauges
package metrics

import (
	"net/http"

	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauges
var (
	SampleOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playthrough_sample_offset_frames",
		Help: "Current producer-to-consumer offset in frames",
	})
	RateRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playthrough_rate_ratio",
		Help: "Producer/consumer clock ratio fed to the varispeed",
	})
	WindowFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playthrough_valid_window_frames",
		Help: "Frames currently readable from the ring buffer",
	})
	Running = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playthrough_running",
		Help: "1 while the engine is running",
	})
)

// Counters
var (
	storesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playthrough_stores_total",
		Help: "Ring buffer stores by status",
	}, []string{"status"})
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playthrough_fetches_total",
		Help: "Ring buffer fetches by status",
	}, []string{"status"})
	AdjustmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playthrough_offset_adjustments_total",
		Help: "Offset corrections applied after fetch misses",
	})
	RestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playthrough_restarts_total",
		Help: "Engine rebuilds after device changes or restart requests",
	})
	SilentTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playthrough_silent_ticks_total",
		Help: "Output pulls rendered as silence",
	})
)

// Children are resolved once so device callbacks never hash label values
var (
	storeByStatus [len(statusIndex)]prometheus.Counter
	fetchByStatus [len(statusIndex)]prometheus.Counter
)

// statusIndex maps ringbuffer.Statuses onto array slots
var statusIndex = [...]ringbuffer.Status{
	ringbuffer.WayBehind,
	ringbuffer.SlightlyBehind,
	ringbuffer.OK,
	ringbuffer.SlightlyAhead,
	ringbuffer.WayAhead,
	ringbuffer.TooMuch,
	ringbuffer.CPUOverload,
}

func init() {
	for i, s := range statusIndex {
		storeByStatus[i] = storesTotal.WithLabelValues(s.String())
		fetchByStatus[i] = fetchesTotal.WithLabelValues(s.String())
	}
}

func slot(s ringbuffer.Status) int {
	i := int(s - ringbuffer.WayBehind)
	if i < 0 || i >= len(statusIndex) {
		return -1
	}
	return i
}

// ObserveStore counts one Store result
func ObserveStore(s ringbuffer.Status) {
	if i := slot(s); i >= 0 {
		storeByStatus[i].Inc()
	}
}

// ObserveFetch counts one Fetch result
func ObserveFetch(s ringbuffer.Status) {
	if i := slot(s); i >= 0 {
		fetchByStatus[i].Inc()
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
