package profiles

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsMiddleware struct {
	reqCount    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	repo        Repository
}

func (m *metricsMiddleware) SaveSnapshot(ctx context.Context, key string, payload string) (err error) {
	defer func(s time.Time) {
		labels := []string{
			"SaveSnapshot", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.SaveSnapshot(ctx, key, payload)
}

func (m *metricsMiddleware) LoadSnapshot(ctx context.Context, key string) (payload string, err error) {
	defer func(s time.Time) {
		labels := []string{
			"LoadSnapshot", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.LoadSnapshot(ctx, key)
}

func (m *metricsMiddleware) DeleteSnapshot(ctx context.Context, key string) (err error) {
	defer func(s time.Time) {
		labels := []string{
			"DeleteSnapshot", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.DeleteSnapshot(ctx, key)
}

func NewMetrics(reqCount *prometheus.CounterVec, reqDuration *prometheus.HistogramVec, repo Repository) Repository {
	return &metricsMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		repo:        repo,
	}
}
