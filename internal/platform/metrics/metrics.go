package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_handler_panics_total",
			Help: "Handler panics recovered, by route template",
		},
		[]string{"route"},
	)

	// Business metrics
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amu_predictions_total",
			Help: "Residue predictions by species, matrix and overall risk category",
		},
		[]string{"species", "matrix", "risk_category"},
	)

	overdosageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amu_overdosage_total",
			Help: "Treatments flagged as overdosed",
		},
		[]string{"species"},
	)

	lookupMissTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amu_prediction_lookup_miss_total",
			Help: "Predictions skipped because the reference table had no data",
		},
	)

	vaccinationAdvanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaccination_advance_total",
			Help: "Vaccination schedule advancement attempts by outcome",
		},
		[]string{"outcome"},
	)

	remindersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaccination_reminders_sent_total",
			Help: "Vaccination reminder notifications created",
		},
		[]string{"kind"},
	)
)

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by the matched route
// template, so path parameters do not explode label cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordPanic is the recovery middleware's OnPanic hook.
func RecordPanic(route string) {
	httpPanicsTotal.WithLabelValues(route).Inc()
}

// --- Business metric helpers ---

func RecordPrediction(species, matrix, riskCategory string) {
	predictionsTotal.WithLabelValues(species, matrix, riskCategory).Inc()
}

func RecordOverdosage(species string) {
	overdosageTotal.WithLabelValues(species).Inc()
}

func RecordLookupMiss() {
	lookupMissTotal.Inc()
}

// RecordVaccinationAdvance outcome is one of advanced, not_due, completed, error.
func RecordVaccinationAdvance(outcome string) {
	vaccinationAdvanceTotal.WithLabelValues(outcome).Inc()
}

// RecordReminder kind is upcoming or overdue.
func RecordReminder(kind string) {
	remindersSentTotal.WithLabelValues(kind).Inc()
}
