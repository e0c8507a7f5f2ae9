package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the server reports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests           *prometheus.CounterVec
	UsersCreated           prometheus.Counter
	IdentityRejections     *prometheus.CounterVec
	ContactSessionsCreated prometheus.Counter
	ContactSessionsExpired prometheus.Counter
	MessagesBroadcast      prometheus.Counter
	RealtimeClients        prometheus.Gauge
	RateLimited            prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "widget_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		UsersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "widget_users_created_total",
			Help: "Users created through the operator API.",
		}),
		IdentityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "widget_identity_rejections_total",
			Help: "Requests whose identity was missing, invalid or lacked an organization.",
		}, []string{"reason"}),
		ContactSessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "widget_contact_sessions_created_total",
			Help: "Contact sessions opened by widget visitors.",
		}),
		ContactSessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "widget_contact_sessions_expired_total",
			Help: "Expired contact sessions removed by retention.",
		}),
		MessagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "widget_messages_broadcast_total",
			Help: "Realtime message events fanned out to subscribers.",
		}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "widget_realtime_clients",
			Help: "Connected websocket clients.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "widget_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.UsersCreated,
		m.IdentityRejections,
		m.ContactSessionsCreated,
		m.ContactSessionsExpired,
		m.MessagesBroadcast,
		m.RealtimeClients,
		m.RateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
