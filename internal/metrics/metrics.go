package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Relay metrics
	RoomOpened()
	RoomClosed()
	RelayMessage(messageType string)

	// Peer link metrics
	FrameSent(kind string, sizeBytes int)
	FrameReceived(kind string, sizeBytes int)

	// Chunk protocol metrics
	ChunkRequested()
	ChunkServed(sizeBytes int)
	ChunkFailed(reason string)

	// Feeder metrics
	FeederQueueDepth(depth int)
	FeederAppended(sizeBytes int)
	FeederDropped()

	// Handler returns an HTTP handler for metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	registry *prometheus.Registry

	activeRooms    prometheus.Gauge
	roomsTotal     prometheus.Counter
	relayMessages  *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	frameBytes     *prometheus.CounterVec

	chunkRequests prometheus.Counter
	chunkBytes    prometheus.Counter
	chunkFailures *prometheus.CounterVec

	feederDepth   prometheus.Gauge
	feederAppends prometheus.Counter
	feederBytes   prometheus.Counter
	feederDropped prometheus.Counter
}

// NewPrometheusCollector creates a collector backed by its own registry, so
// several collectors can live in one process.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "browsercast_relay_active_rooms",
			Help: "Number of relay rooms with at least one participant",
		}),
		roomsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_relay_rooms_total",
			Help: "Total number of relay rooms opened",
		}),
		relayMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsercast_relay_messages_total",
				Help: "Total number of relay messages handled",
			},
			[]string{"message_type"},
		),

		framesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsercast_link_frames_sent_total",
				Help: "Total number of data channel frames sent",
			},
			[]string{"kind"},
		),
		framesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsercast_link_frames_received_total",
				Help: "Total number of data channel frames received",
			},
			[]string{"kind"},
		),
		frameBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsercast_link_bytes_total",
				Help: "Total data channel payload bytes",
			},
			[]string{"direction"},
		),

		chunkRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_chunk_requests_total",
			Help: "Total number of pull requests issued",
		}),
		chunkBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_chunk_bytes_total",
			Help: "Total bytes delivered by pull responses",
		}),
		chunkFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsercast_chunk_failures_total",
				Help: "Total number of failed pull requests",
			},
			[]string{"reason"},
		),

		feederDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "browsercast_feeder_queue_depth",
			Help: "Chunks waiting for the playback sink",
		}),
		feederAppends: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_feeder_appends_total",
			Help: "Total number of chunks appended to the playback sink",
		}),
		feederBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_feeder_bytes_total",
			Help: "Total bytes appended to the playback sink",
		}),
		feederDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "browsercast_feeder_dropped_total",
			Help: "Chunks dropped because the playback sink was not open",
		}),
	}
}

func (c *PrometheusCollector) RoomOpened() {
	c.activeRooms.Inc()
	c.roomsTotal.Inc()
}

func (c *PrometheusCollector) RoomClosed() {
	c.activeRooms.Dec()
}

func (c *PrometheusCollector) RelayMessage(messageType string) {
	c.relayMessages.WithLabelValues(messageType).Inc()
}

func (c *PrometheusCollector) FrameSent(kind string, sizeBytes int) {
	c.framesSent.WithLabelValues(kind).Inc()
	c.frameBytes.WithLabelValues("sent").Add(float64(sizeBytes))
}

func (c *PrometheusCollector) FrameReceived(kind string, sizeBytes int) {
	c.framesReceived.WithLabelValues(kind).Inc()
	c.frameBytes.WithLabelValues("received").Add(float64(sizeBytes))
}

func (c *PrometheusCollector) ChunkRequested() {
	c.chunkRequests.Inc()
}

func (c *PrometheusCollector) ChunkServed(sizeBytes int) {
	c.chunkBytes.Add(float64(sizeBytes))
}

func (c *PrometheusCollector) ChunkFailed(reason string) {
	c.chunkFailures.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) FeederQueueDepth(depth int) {
	c.feederDepth.Set(float64(depth))
}

func (c *PrometheusCollector) FeederAppended(sizeBytes int) {
	c.feederAppends.Inc()
	c.feederBytes.Add(float64(sizeBytes))
}

func (c *PrometheusCollector) FeederDropped() {
	c.feederDropped.Inc()
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Noop discards everything. It is the default when no collector is wired.
type Noop struct{}

func (Noop) RoomOpened() {}
func (Noop) RoomClosed() {}
func (Noop) RelayMessage(string) {}
func (Noop) FrameSent(string, int) {}
func (Noop) FrameReceived(string, int) {}
func (Noop) ChunkRequested() {}
func (Noop) ChunkServed(int) {}
func (Noop) ChunkFailed(string) {}
func (Noop) FeederQueueDepth(int) {}
func (Noop) FeederAppended(int) {}
func (Noop) FeederDropped() {}
func (Noop) Handler() http.Handler { return http.NotFoundHandler() }

// OrNoop returns c, or Noop when c is nil.
func OrNoop(c Collector) Collector {
	if c == nil {
		return Noop{}
	}
	return c
}
