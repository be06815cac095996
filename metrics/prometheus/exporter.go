package prometheus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the metric registry and serves it over HTTP. The main
// server mounts Handler on its own router; Start exists for deployments
// that scrape a separate port.
type Exporter struct {
	addr     string
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
}

// NewExporter builds an exporter with every call metric plus the Go
// runtime and process collectors registered.
func NewExporter(addr string) *Exporter {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Exporter{addr: addr, registry: reg}
}

// NewExporterWithRegistry uses a caller-provided registry, mainly for
// tests that need isolation from the package metrics.
func NewExporterWithRegistry(addr string, registry *prometheus.Registry) *Exporter {
	return &Exporter{addr: addr, registry: registry}
}

// Registry exposes the underlying registry for extra collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the scrape handler for mounting into another router.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves /metrics on the exporter's own listener and blocks until
// Shutdown. Calling Start twice is a no-op returning nil.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.server != nil {
		e.mu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := e.server
	e.mu.Unlock()

	return server.ListenAndServe()
}

// Shutdown stops a started exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.server = nil
	e.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
