// Package dashboard serves the chart pages, their JSON index, the raw
// snapshot and timeline, the live websocket streams and /metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Source is what the server reads; *sampler.Sampler implements it.
type Source interface {
	Latest() (telemetry.Snapshot, bool)
	Timeline() []telemetry.Point
	Subscribe() (<-chan sampler.Update, func())
	Metrics() []base.Metric
}

type Options struct {
	Rollover int
	HostInfo bool
	// origins besides the page's own that may open the streams; "*"
	// allows any
	AllowedOrigins []string
	// serves /metrics when set
	Gatherer prometheus.Gatherer
}

type page struct {
	path   string
	render func(w io.Writer) error
}

type Server struct {
	src      Source
	opts     Options
	log      *zap.Logger
	pages    []page
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	done     chan struct{}
	stopOnce sync.Once
}

func New(src Source, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Rollover <= 0 {
		opts.Rollover = 1000
	}

	s := &Server{
		src:  src,
		opts: opts,
		log:  log.Named("dashboard"),
		mux:  http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		done: make(chan struct{}),
	}
	s.pages = s.buildPages()
	s.routes()
	return s
}

// buildPages lists the chart routes in display order. Bar pages of metrics
// that are not polled are left out.
func (s *Server) buildPages() []page {
	enabled := map[base.Metric]bool{}
	for _, m := range s.src.Metrics() {
		enabled[m] = true
	}

	var pages []page
	addBar := func(path string, spec barSpec) {
		if !enabled[spec.metric] {
			return
		}
		pages = append(pages, page{path: path, render: func(w io.Writer) error {
			return newBarChart(spec, s.latest()).Render(w)
		}})
	}

	addBar("/GPU-Utilization", utilizationBar)
	addBar("/GPU-Memory", memoryBar)
	addBar("/GPU-Clock-Frequency", clockBar)
	addBar("/GPU-PCIe-Bandwidth", pcieBar)
	addBar("/GPU-Voltage", voltageBar)

	pages = append(pages, page{path: "/GPU-Resource-Timeline", render: func(w io.Writer) error {
		return newTimelinePage(s.src.Timeline(), s.opts.Rollover).Render(w)
	}})
	if s.opts.HostInfo {
		pages = append(pages, page{path: "/Machine-Resources", render: func(w io.Writer) error {
			return newLineChart(machineLine, s.src.Timeline(), s.opts.Rollover, chartHeight).Render(w)
		}})
	}
	return pages
}

func (s *Server) routes() {
	for _, p := range s.pages {
		s.mux.HandleFunc("GET "+p.path, s.handlePage(p))
	}
	s.mux.HandleFunc("GET /index.json", s.handleIndex)
	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	s.mux.HandleFunc("GET /ws/{stream}", s.handleStream)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.pages[0].path, http.StatusFound)
	})
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Index maps every chart route to its display name.
func (s *Server) Index() map[string]string {
	index := make(map[string]string, len(s.pages))
	for _, p := range s.pages {
		index[p.path] = routeTitle(p.path)
	}
	return index
}

// stop closes the open streams. Streams opened during a later Serve on the
// same Server close right away.
func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully and closes the open streams.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.stop()
		return err
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("dashboard stopped")
	return nil
}

// originChecker accepts requests without an Origin header, same-origin
// requests and the listed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := map[string]bool{}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(o)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(strings.TrimRight(origin, "/"))]
	}
}

func (s *Server) latest() telemetry.Snapshot {
	snap, _ := s.src.Latest()
	return snap
}

func (s *Server) handlePage(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := p.render(w); err != nil {
			s.log.Warn("render failed", zap.String("route", p.path), zap.Error(err))
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Index())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.src.Latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Timeline())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
