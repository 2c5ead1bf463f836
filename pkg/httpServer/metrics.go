package httpServer

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reqCount    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
}

func newMetrics(namespace, subsystem string) *metrics {
	labels := []string{"method", "path", "status"}

	m := &metrics{
		reqCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by method, route and status.",
		}, labels),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}

	prometheus.MustRegister(m.reqCount, m.reqDuration)

	return m
}

func (m *metrics) metricsMiddleware(c *fiber.Ctx) error {
	start := time.Now()

	err := c.Next()

	labels := []string{
		c.Method(),
		c.Route().Path,
		strconv.Itoa(c.Response().StatusCode()),
	}
	m.reqCount.WithLabelValues(labels...).Add(1)
	m.reqDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

	return err
}
