package monitoring

import (
	"relaycast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the engine metrics port on top of the
// default Prometheus registry.
type PrometheusCollector struct {
	activeStreams    prometheus.Gauge
	pausedStreams    prometheus.Gauge
	scheduledStreams prometheus.Gauge

	promotionsTotal        prometheus.Counter
	promotionFailuresTotal prometheus.Counter
	schedulesDroppedTotal  prometheus.Counter
	transmitterFailures    prometheus.Counter
	broadcastsTotal        prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		activeStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaycast_active_streams",
			Help: "Number of streams currently transmitting",
		}),
		pausedStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaycast_paused_streams",
			Help: "Number of registered streams that are not transmitting",
		}),
		scheduledStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaycast_scheduled_streams",
			Help: "Number of streams waiting for their start time",
		}),
		promotionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaycast_promotions_total",
			Help: "Total scheduled streams promoted to active",
		}),
		promotionFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaycast_promotion_failures_total",
			Help: "Total failed promotion attempts",
		}),
		schedulesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaycast_schedules_dropped_total",
			Help: "Total scheduled streams dropped after exhausting promotion attempts",
		}),
		transmitterFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaycast_transmitter_failures_total",
			Help: "Total transmitter start/stop failures",
		}),
		broadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaycast_broadcasts_total",
			Help: "Total snapshot broadcasts pushed to observers",
		}),
	}
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

func (c *PrometheusCollector) SetStreamCounts(active, paused, scheduled int) {
	c.activeStreams.Set(float64(active))
	c.pausedStreams.Set(float64(paused))
	c.scheduledStreams.Set(float64(scheduled))
}

func (c *PrometheusCollector) RecordPromotion() {
	c.promotionsTotal.Inc()
}

func (c *PrometheusCollector) RecordPromotionFailure() {
	c.promotionFailuresTotal.Inc()
}

func (c *PrometheusCollector) RecordScheduleDropped() {
	c.schedulesDroppedTotal.Inc()
}

func (c *PrometheusCollector) RecordTransmitterFailure() {
	c.transmitterFailures.Inc()
}

func (c *PrometheusCollector) RecordBroadcast() {
	c.broadcastsTotal.Inc()
}

// NoopMetrics discards all measurements. Used when Prometheus is disabled
// and in tests.
type NoopMetrics struct{}

var _ ports.Metrics = (*NoopMetrics)(nil)

func (NoopMetrics) SetStreamCounts(active, paused, scheduled int) {}
func (NoopMetrics) RecordPromotion()                              {}
func (NoopMetrics) RecordPromotionFailure()                       {}
func (NoopMetrics) RecordScheduleDropped()                        {}
func (NoopMetrics) RecordTransmitterFailure()                     {}
func (NoopMetrics) RecordBroadcast()                              {}
