// Package server exposes the call runtime over HTTP: Twilio webhooks and
// media-stream WebSockets for telephone calls, a browser WebSocket
// transport, the dashboard REST API with its live event feed, and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/logger"
	metrics "github.com/karmalabs/karma/metrics/prometheus"
	"github.com/karmalabs/karma/pipeline"
	"github.com/karmalabs/karma/registry"
	"github.com/karmalabs/karma/store"
)

const shutdownTimeout = 10 * time.Second

// Options configures a Server. Registry, Store, Bus, and Deps are
// required; the rest have sensible defaults.
type Options struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// PublicHost is the externally reachable host placed in the TwiML
	// media stream URL. Falls back to the request Host header when empty.
	PublicHost string

	Registry *registry.Registry
	Store    store.Store
	Bus      *events.Bus

	// Deps holds the collaborators handed to every new pipeline.
	Deps pipeline.Deps

	// PipelineConfig is the per-call template; CallID and Transport are
	// filled in by the transports.
	PipelineConfig pipeline.Config
}

// Server is the HTTP front of the call runtime.
type Server struct {
	opts     Options
	router   chi.Router
	exporter *metrics.Exporter
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds the server and its routes.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		exporter: metrics.NewExporter(opts.Addr),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio and the dashboard connect cross-origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Twilio webhooks and media stream.
	r.Post("/voice", s.handleVoice)
	r.Post("/call-status", s.handleCallStatus)
	r.Get("/media-stream", s.handleMediaStream)

	// Browser transport.
	r.Get("/ws/call", s.handleBrowserCall)

	// Dashboard.
	r.Route("/api", func(api chi.Router) {
		api.Get("/stats", s.handleStats)
		api.Get("/calls", s.handleListCalls)
		api.Get("/calls/{callID}", s.handleGetCall)
		api.Get("/calls/{callID}/transcript", s.handleTranscript)
		api.Get("/calls/{callID}/intel", s.handleIntel)
		api.Get("/active-calls", s.handleActiveCalls)
		api.Post("/calls/{callID}/mute", s.handleMute)
		api.Delete("/calls/{callID}", s.handleDrop)
	})
	r.Get("/ws/dashboard", s.handleDashboardWS)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.exporter.Handler())

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until the context is canceled, then drains active calls
// and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	log := logger.For("server")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", s.opts.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		s.opts.Registry.DestroyAll("server shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newPipeline registers and starts a session for the given call.
func (s *Server) newPipeline(ctx context.Context, callID string, transport pipeline.Transport) (*pipeline.Pipeline, error) {
	cfg := s.opts.PipelineConfig
	cfg.CallID = callID
	cfg.Transport = transport
	return s.opts.Registry.Create(ctx, cfg, s.opts.Deps)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.opts.Registry.Count(),
	})
}
