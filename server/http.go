package server

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casklog/casklog/log"
	"github.com/casklog/casklog/protocol"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 4 << 20

// HTTP serves requests as JSON bodies POSTed to /<type>.
type HTTP struct {
	addr       string
	dispatcher *Dispatcher
	gatherer   prometheus.Gatherer
	metrics    *serverMetrics
	logger     log.Logger
	ln         net.Listener
	srv        *http.Server
}

// NewHTTP returns a server for addr. Metrics registered with registry are
// served on /metrics.
func NewHTTP(addr string, d *Dispatcher, registry *prometheus.Registry, logger log.Logger) *HTTP {
	return &HTTP{
		addr:       addr,
		dispatcher: d,
		gatherer:   registry,
		metrics:    newServerMetrics(registry),
		logger:     logger,
	}
}

// Handler returns the routes the server serves.
func (s *HTTP) Handler() http.Handler {
	r := mux.NewRouter()
	for _, typ := range Types {
		r.Methods("POST").Path("/" + typ).Handler(s.handleRequest(typ))
	}
	r.Methods("GET").Path("/metrics").Handler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Methods("GET").Path("/healthz").HandlerFunc(s.handleHealthz)
	r.PathPrefix("").HandlerFunc(s.handleNotFound)
	return handlers.LoggingHandler(os.Stderr, r)
}

// Start listens on the server's address and serves in the background.
func (s *HTTP) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server: serve failed", log.Error("error", err))
		}
	}()
	s.logger.Info("server: listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the address the server listens on.
func (s *HTTP) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTP) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HTTP) handleRequest(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, typ, protocol.ErrMalformedRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
		defer cancel()
		res, err := s.dispatcher.Dispatch(ctx, typ, body)
		if err != nil {
			s.logger.Info("server: request failed", log.String("type", typ), log.Duration("took", time.Since(start)), log.Error("error", err))
			s.writeError(w, typ, err)
			return
		}
		s.write(w, typ, http.StatusOK, res)
	}
}

func (s *HTTP) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *HTTP) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, "unknown", protocol.ErrNotSupported)
}

func (s *HTTP) writeError(w http.ResponseWriter, typ string, err error) {
	res := protocol.NewErrorResponse(err)
	s.write(w, typ, res.Code.HTTPStatus(), res)
}

func (s *HTTP) write(w http.ResponseWriter, typ string, status int, res interface{}) {
	s.metrics.requestsHandled.WithLabelValues(typ, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("server: write reply failed", log.Error("error", err))
	}
}
