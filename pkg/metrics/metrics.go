package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes the tracker's processing counters in Prometheus format
type Collector struct {
	reg *prometheus.Registry

	ReportsProcessed prometheus.Counter
	StopChanges      prometheus.Counter
	Conditions       *prometheus.CounterVec // type label
	StopTransitions  *prometheus.CounterVec // status, skipped, unobserved labels

	ProcessDuration prometheus.Histogram

	TrackedVehicles prometheus.Gauge
	LoadedJourneys  prometheus.Gauge
	LoadedShapes    prometheus.Gauge

	NotificationsPublished prometheus.Counter
	NotificationErrors     prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReportsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eta_reports_processed_total",
			Help: "Total position reports processed.",
		}),
		StopChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eta_stop_changes_total",
			Help: "Total stop estimate changes emitted.",
		}),
		Conditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eta_conditions_total",
			Help: "Reported conditions by type.",
		}, []string{"type"}),
		StopTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eta_stop_transitions_total",
			Help: "Stop status transitions.",
		}, []string{"status", "skipped", "unobserved"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eta_report_duration_seconds",
			Help:    "Time taken to process a single position report.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eta_tracked_vehicles",
			Help: "Number of vehicles with tracking state.",
		}),
		LoadedJourneys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eta_loaded_journeys",
			Help: "Number of journeys in the current snapshot.",
		}),
		LoadedShapes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eta_loaded_shapes",
			Help: "Number of shapes in the current index.",
		}),
		NotificationsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eta_notifications_published_total",
			Help: "Total stop change notifications published.",
		}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eta_notification_errors_total",
			Help: "Total stop change notification publish errors.",
		}),
	}

	reg.MustRegister(
		c.ReportsProcessed, c.StopChanges, c.Conditions, c.StopTransitions,
		c.ProcessDuration,
		c.TrackedVehicles, c.LoadedJourneys, c.LoadedShapes,
		c.NotificationsPublished, c.NotificationErrors,
	)

	return c
}

func (c *Collector) ReportProcessed(duration time.Duration, changes int) {
	c.ReportsProcessed.Inc()
	c.StopChanges.Add(float64(changes))
	c.ProcessDuration.Observe(duration.Seconds())
}

func (c *Collector) ConditionReported(conditionType string) {
	c.Conditions.WithLabelValues(conditionType).Inc()
}

func (c *Collector) StopTransition(status string, skipped bool, unobserved bool) {
	c.StopTransitions.WithLabelValues(status, boolLabel(skipped), boolLabel(unobserved)).Inc()
}

func (c *Collector) ReferenceLoaded(journeys int, shapes int) {
	c.LoadedJourneys.Set(float64(journeys))
	c.LoadedShapes.Set(float64(shapes))
}

func (c *Collector) VehiclesTracked(vehicles int) {
	c.TrackedVehicles.Set(float64(vehicles))
}

func (c *Collector) NotificationPublished(err error) {
	if err != nil {
		c.NotificationErrors.Inc()
	} else {
		c.NotificationsPublished.Inc()
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
