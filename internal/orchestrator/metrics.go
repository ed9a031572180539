package orchestrator

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
)

// Update paths reported by the update cycle metrics.
const (
	PathPush     = "push"
	PathPoll     = "poll"
	PathFallback = "push_fallback"
	PathNone     = "none"
)

// Metrics holds the Prometheus collectors of the sync engine.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	pushEvents     *prometheus.CounterVec
	reconnects     prometheus.Counter
	updateCycles   *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
	temperature    *prometheus.GaugeVec
	humidity       *prometheus.GaugeVec
	setpoint       *prometheus.GaugeVec
	power          *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatesync_cloud_requests_total",
				Help: "Cloud API requests by endpoint and HTTP status (0 for transport failures)",
			},
			[]string{"endpoint", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "climatesync_cloud_request_duration_seconds",
				Help:    "Cloud API request latency by endpoint",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "climatesync_cloud_requests_in_flight",
				Help: "Cloud API requests currently holding a limiter slot",
			},
		),
		pushEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatesync_push_events_total",
				Help: "Push channel messages by event type",
			},
			[]string{"event"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "climatesync_push_reconnects_total",
				Help: "Push channel reconnects triggered by the liveness check",
			},
		),
		updateCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatesync_update_cycles_total",
				Help: "Update cycles by path and result",
			},
			[]string{"path", "result"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "climatesync_update_duration_seconds",
				Help:    "Update cycle duration by path",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		temperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "climatesync_temperature_celsius",
				Help: "Current room temperature reported by a device",
			},
			[]string{"device", "kind"},
		),
		humidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "climatesync_humidity_percent",
				Help: "Current relative humidity reported by a device",
			},
			[]string{"device", "kind"},
		),
		setpoint: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "climatesync_setpoint_celsius",
				Help: "Target temperature for the current mode",
			},
			[]string{"device", "kind"},
		),
		power: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "climatesync_power_on",
				Help: "Device power state (1 = on, 0 = off)",
			},
			[]string{"device", "kind"},
		),
	}

	reg.MustRegister(
		m.requests,
		m.requestLatency,
		m.inFlight,
		m.pushEvents,
		m.reconnects,
		m.updateCycles,
		m.updateDuration,
		m.temperature,
		m.humidity,
		m.setpoint,
		m.power,
	)
	return m
}

// ObserveRequest implements cloudapi.Observer.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObservePushEvent counts one push message.
func (m *Metrics) ObservePushEvent(label string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(label).Inc()
}

// ObserveEntity refreshes the per-device gauges from current state.
func (m *Metrics) ObserveEntity(e climate.Entity) {
	if m == nil {
		return
	}
	c, ok := e.(climate.Climatic)
	if !ok {
		return
	}
	st := c.HVACState()
	labels := []string{c.ID(), c.Kind().String()}
	if v := st.Temperature(); v != nil {
		m.temperature.WithLabelValues(labels...).Set(*v)
	}
	if st.Humidity != nil {
		m.humidity.WithLabelValues(labels...).Set(float64(*st.Humidity))
	}
	if v := st.TempSet(); v != nil {
		m.setpoint.WithLabelValues(labels...).Set(*v)
	}
	if st.Power != nil {
		v := 0.0
		if *st.Power {
			v = 1
		}
		m.power.WithLabelValues(labels...).Set(v)
	}
}

func (m *Metrics) acquired() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) released() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) observeUpdate(path string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.updateCycles.WithLabelValues(path, result).Inc()
	m.updateDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}
