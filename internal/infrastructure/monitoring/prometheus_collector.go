package monitoring

import (
	"net/http"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector records meeting client metrics. It also counts the
// remote media drained from peer sessions.
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	sessionTransitions *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	rosterSize         prometheus.Gauge
	acquisitions       *prometheus.CounterVec
	negotiation        *prometheus.HistogramVec
	signalsReceived    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	screenShareActive  prometheus.Gauge
	channelReconnects  prometheus.Counter

	remoteBytes   *prometheus.CounterVec
	remotePackets *prometheus.CounterVec
}

var (
	_ ports.Metrics         = (*PrometheusCollector)(nil)
	_ ports.RemoteMediaSink = (*PrometheusCollector)(nil)
)

// NewPrometheusCollector registers on reg; a nil reg uses a fresh registry.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		gatherer: reg,

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_session_state_transitions_total",
			Help: "Peer session state transitions",
		}, []string{"from", "to"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_sessions_active",
			Help: "Number of registered peer sessions",
		}),

		rosterSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_roster_size",
			Help: "Number of members in the current room roster",
		}),

		acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_media_acquisitions_total",
			Help: "Capture attempts per constraint profile",
		}, []string{"profile", "result"}),

		negotiation: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_negotiation_duration_seconds",
			Help:    "Duration of offer/answer negotiation steps",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op", "result"}),

		signalsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signals_received_total",
			Help: "Inbound negotiation signals by type",
		}, []string{"type"}),

		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_events_dropped_total",
			Help: "Inbound events and signals that were discarded",
		}, []string{"reason"}),

		screenShareActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_screen_share_active",
			Help: "1 while the local screen is being shared",
		}),

		channelReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_signal_channel_reconnects_total",
			Help: "Signaling channel reconnections",
		}),

		remoteBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_remote_rtp_bytes_total",
			Help: "RTP payload bytes received from peers",
		}, []string{"kind"}),

		remotePackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_remote_rtp_packets_total",
			Help: "RTP packets received from peers",
		}, []string{"kind"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *PrometheusCollector) SessionStateChanged(from, to domain.ConnectionState) {
	p.sessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) SetActiveSessions(n int) { p.sessionsActive.Set(float64(n)) }
func (p *PrometheusCollector) SetRosterSize(n int)     { p.rosterSize.Set(float64(n)) }

func (p *PrometheusCollector) ObserveAcquisition(profile string, err error) {
	p.acquisitions.WithLabelValues(profile, result(err)).Inc()
}

func (p *PrometheusCollector) ObserveNegotiation(op string, d time.Duration, err error) {
	p.negotiation.WithLabelValues(op, result(err)).Observe(d.Seconds())
}

func (p *PrometheusCollector) SignalReceived(t domain.SignalType) {
	p.signalsReceived.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) EventDropped(reason string) {
	p.eventsDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ScreenShareChanged(active bool) {
	if active {
		p.screenShareActive.Set(1)
		return
	}
	p.screenShareActive.Set(0)
}

func (p *PrometheusCollector) ChannelReconnected() { p.channelReconnects.Inc() }

func (p *PrometheusCollector) WriteRTP(_ domain.UserID, track domain.RemoteTrackInfo, pkt *rtp.Packet) error {
	kind := string(track.Kind)
	p.remotePackets.WithLabelValues(kind).Inc()
	p.remoteBytes.WithLabelValues(kind).Add(float64(len(pkt.Payload)))
	return nil
}

// Handler serves the collected metrics in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
