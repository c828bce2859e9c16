// Package metrics exposes a Prometheus registry tracking service/client
// occupancy and fail-reason counts, served over its own HTTP listener.
// Grounded on sa6mwa-lockd's telemetry.go: a dedicated net.Listener plus
// http.Server serving promhttp's handler, generalized from that repo's
// OpenTelemetry-backed exporter down to a bare prometheus.Registry since
// this module carries prometheus/client_golang but not the OTel stack.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/logger"
)

// Registry bundles every gauge/counter this process exposes for one domain.
type Registry struct {
	registry      *prometheus.Registry
	clients       prometheus.Gauge
	services      prometheus.Gauge
	subscriptions prometheus.Gauge
	failures      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewRegistry builds a Registry for domainName and registers it with
// Prometheus's default label set (domain="<domainName>").
func NewRegistry(domainName string) *Registry {
	labels := prometheus.Labels{"domain": domainName}
	r := &Registry{
		registry: prometheus.NewRegistry(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pathfinder_clients",
			Help:        "Currently connected clients.",
			ConstLabels: labels,
		}),
		services: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pathfinder_services",
			Help:        "Currently published services.",
			ConstLabels: labels,
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pathfinder_subscriptions",
			Help:        "Currently active subscriptions.",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pathfinder_fail_total",
			Help:        "Operations rejected, by fail-reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pathfinder_notify_total",
			Help:        "Subscription notifications delivered, by match type.",
			ConstLabels: labels,
		}, []string{"match_type"}),
	}
	r.registry.MustRegister(r.clients, r.services, r.subscriptions, r.failures, r.notifications)
	return r
}

// Observe installs a domain.OnServiceChange hook that keeps the service
// gauge in sync with committed mutations.
func (r *Registry) Observe(dom *domain.Domain) {
	dom.OnServiceChange(func(ct domain.ChangeType, _ *domain.Service) {
		switch ct {
		case domain.ChangeAdded:
			r.services.Inc()
		case domain.ChangeRemoved:
			r.services.Dec()
		}
	})
}

// ClientConnected/ClientDisconnected adjust the client gauge. Domain has no
// client-change hook, so the gauge moves only when these are called, and no
// session code calls them.
func (r *Registry) ClientConnected()    { r.clients.Inc() }
func (r *Registry) ClientDisconnected() { r.clients.Dec() }

func (r *Registry) SubscriptionCreated() { r.subscriptions.Inc() }
func (r *Registry) SubscriptionRemoved() { r.subscriptions.Dec() }

// Fail records one rejected operation.
func (r *Registry) Fail(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

// Notify records one delivered subscription notification.
func (r *Registry) Notify(matchType string) {
	r.notifications.WithLabelValues(matchType).Inc()
}

// Server serves /metrics for every domain's Registry on one shared listener.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Serve starts listening at addr (host:port). Each Registry is mounted at
// /metrics/<domainName>; an aggregate exposition combining every
// registered gauge under its own domain label lives at /metrics.
func Serve(addr string, registries map[string]*Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	for name, r := range registries {
		mux.Handle("/metrics/"+name, promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/metrics", aggregateHandler(registries))

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("metrics server stopped: %v", err)
		}
	}()
	logger.InfoF("metrics: listening on %s", ln.Addr())
	return &Server{ln: ln, srv: srv}, nil
}

func aggregateHandler(registries map[string]*Registry) http.Handler {
	gatherers := make(prometheus.Gatherers, 0, len(registries))
	for _, r := range registries {
		gatherers = append(gatherers, r.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// Invoke satisfies internal/event.Callable so the metrics server shuts down
// as part of the regular cleanup sequence.
func (s *Server) Invoke(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
