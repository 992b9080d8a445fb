package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "questsession"

// Session counts refresh and teardown activity of a session manager.
type Session struct {
	RefreshTotal   *prometheus.CounterVec
	RefreshWaiters prometheus.Counter
	TeardownTotal  *prometheus.CounterVec
}

func NewSession() *Session {
	return &Session{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "refresh_total", Help: "Refresh-token calls by result."},
			[]string{"result"},
		),
		RefreshWaiters: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "refresh_waiters_total", Help: "Callers that joined an in-flight refresh instead of starting one."},
		),
		TeardownTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "teardown_total", Help: "Session teardowns by reason."},
			[]string{"reason"},
		),
	}
}

func (m *Session) RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(m.RefreshTotal)
	reg.MustRegister(m.RefreshWaiters)
	reg.MustRegister(m.TeardownTotal)
}

// HTTP instruments the Users API server.
type HTTP struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
}

func NewHTTP() *HTTP {
	return &HTTP{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status."},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.", Buckets: prometheus.DefBuckets},
			[]string{"method", "route"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by limiter type."},
			[]string{"limiter"},
		),
	}
}

func (m *HTTP) RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.RateLimited)
}
