// Package httpd is an embeddable HTTP/1.x server core: bind a listener,
// then pull parsed requests off it one at a time and answer each with a
// Response. Routing, request body deserialization, and TLS certificate
// management policy are deliberately left to the embedder.
package httpd

import (
	"context"
	"crypto/tls"
	"iter"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corewire/httpd/internal/httpcore"
	"github.com/corewire/httpd/internal/logx"
	"github.com/corewire/httpd/internal/metrics"
	"github.com/corewire/httpd/internal/pool"
	"github.com/corewire/httpd/internal/queue"
)

// Public aliases over the core types, so embedders never need to import
// internal/httpcore directly.
type (
	Request      = httpcore.Request
	Response     = httpcore.Response
	Header       = httpcore.Header
	Method       = httpcore.Method
	StatusCode   = httpcore.StatusCode
	ProtoVersion = httpcore.ProtoVersion
	ParseLimits  = httpcore.ParseLimits
	BodyConfig   = httpcore.BodyConfig
	Logger       = logx.Logger
	Field        = logx.Field
)

// F builds a structured logging Field.
func F(key string, value any) Field { return logx.F(key, value) }

// NopLogger discards everything; the default when Config.Logger is nil.
var NopLogger = logx.Nop

// Standard method values, re-exported for convenience.
var (
	MethodGet     = httpcore.MethodGet
	MethodHead    = httpcore.MethodHead
	MethodPost    = httpcore.MethodPost
	MethodPut     = httpcore.MethodPut
	MethodDelete  = httpcore.MethodDelete
	MethodConnect = httpcore.MethodConnect
	MethodOptions = httpcore.MethodOptions
	MethodTrace   = httpcore.MethodTrace
	MethodPatch   = httpcore.MethodPatch
)

// Commonly used status codes, re-exported for convenience.
const (
	StatusContinue           = httpcore.StatusContinue
	StatusSwitchingProtocols = httpcore.StatusSwitchingProtocols
	StatusOK                 = httpcore.StatusOK
	StatusNoContent          = httpcore.StatusNoContent
	StatusNotModified        = httpcore.StatusNotModified
	StatusBadRequest         = httpcore.StatusBadRequest
	StatusExpectationFailed  = httpcore.StatusExpectationFailed
	StatusRequestTimeout     = httpcore.StatusRequestTimeout
	StatusInternalError      = httpcore.StatusInternalError
	StatusHTTPVersionNotSupp = httpcore.StatusHTTPVersionNotSupp
)

// DefaultParseLimits matches internal/httpcore's defaults.
var DefaultParseLimits = httpcore.DefaultParseLimits

// DefaultBodyConfig matches internal/httpcore's defaults.
var DefaultBodyConfig = httpcore.DefaultBodyConfig

// ErrClosed is returned by Recv and RecvTimeout once the server has been
// unblocked or closed and its queue has drained; Incoming simply ends.
var ErrClosed = queue.ErrClosed

// TLSConfig supplies certificate material for an HTTPS listener. NewServer
// zeroes both slices once the tls.Config has been built from them, per the
// "key material should be zeroed after the handshake context is built"
// guidance.
type TLSConfig struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Config is the server's plain configuration struct — no fluent builder;
// the core only needs values, any flag/file/env layering belongs in an
// embedder's own entrypoint.
type Config struct {
	// ServerName is sent as the Server response header when non-empty.
	ServerName string
	// ChunkThreshold is the body-length cutoff at or above which an identity
	// response switches to chunked transfer; 0 uses the package default.
	ChunkThreshold int64

	// QueueCapacity bounds the number of parsed-but-unclaimed requests;
	// 0 means unbounded.
	QueueCapacity int

	// MaxWorkers bounds concurrently served connections; <= 0 defaults to 64.
	MaxWorkers int64
	// IdleTimeout is the per-connection inactivity deadline; 0 disables it.
	IdleTimeout time.Duration
	// IdleReapInterval is how long the accept loop waits for a worker slot
	// to free up before dropping an accepted connection; <= 0 defaults to 5s.
	IdleReapInterval time.Duration

	// Limits and BodyConfig fall back to DefaultParseLimits and
	// DefaultBodyConfig when left at their zero values.
	Limits     ParseLimits
	BodyConfig BodyConfig

	// MetricsRegistry, if non-nil, receives the server's Prometheus
	// collectors under MetricsNamespace.
	MetricsRegistry  *prometheus.Registry
	MetricsNamespace string

	// Logger receives structured diagnostics; nil uses NopLogger.
	Logger Logger
}

// Server is a bound, running HTTP/1.x listener.
type Server struct {
	ln     net.Listener
	pool   *pool.Pool
	queue  *queue.Queue[*Request]
	cancel context.CancelFunc
}

// NewServer binds addr and starts serving. tlsConfig may be nil for plain
// TCP.
func NewServer(addr string, tlsConfig *TLSConfig, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	var tc *tls.Config
	if tlsConfig != nil {
		cert, err := tls.X509KeyPair(tlsConfig.CertPEM, tlsConfig.KeyPEM)
		if err != nil {
			ln.Close()
			return nil, err
		}
		tc = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		zeroBytes(tlsConfig.CertPEM)
		zeroBytes(tlsConfig.KeyPEM)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logx.Nop
	}

	var mcol *metrics.Collectors
	if cfg.MetricsRegistry != nil {
		mcol = metrics.New(cfg.MetricsRegistry, cfg.MetricsNamespace)
	}

	if cfg.Limits == (ParseLimits{}) {
		cfg.Limits = DefaultParseLimits
	}
	if cfg.BodyConfig == (BodyConfig{}) {
		cfg.BodyConfig = DefaultBodyConfig
	}

	q := queue.New[*Request](cfg.QueueCapacity)

	p := pool.New(ln, pool.Config{
		MaxWorkers:       cfg.MaxWorkers,
		IdleTimeout:      cfg.IdleTimeout,
		IdleReapInterval: cfg.IdleReapInterval,
		TLSConfig:        tc,
		Limits:           cfg.Limits,
		BodyConfig:       cfg.BodyConfig,
		ResponseDefaults: httpcore.ResponseDefaults{
			ServerName:     cfg.ServerName,
			ChunkThreshold: cfg.ChunkThreshold,
		},
		Metrics: mcol,
		Logger:  logger,
	}, q)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{ln: ln, pool: p, queue: q, cancel: cancel}

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("accept loop exited", logx.F("err", err.Error()))
		}
	}()

	return s, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Recv blocks until a request is available or the server is closed.
func (s *Server) Recv() (*Request, error) {
	return s.queue.Pop(context.Background())
}

// TryRecv returns immediately: (req, true, nil) if one was waiting,
// (nil, false, nil) otherwise.
func (s *Server) TryRecv() (*Request, bool, error) {
	req, ok := s.queue.TryPop()
	return req, ok, nil
}

// RecvTimeout waits up to d for a request.
func (s *Server) RecvTimeout(d time.Duration) (*Request, bool, error) {
	return s.queue.PopTimeout(d)
}

// Incoming returns a range-over-func iterator of requests, ending when the
// server is closed or unblocked.
func (s *Server) Incoming() iter.Seq[*Request] {
	return func(yield func(*Request) bool) {
		for {
			req, err := s.queue.Pop(context.Background())
			if err != nil {
				return
			}
			if !yield(req) {
				return
			}
		}
	}
}

// Unblock releases every call currently blocked in Recv/RecvTimeout/
// Incoming without closing the listener.
func (s *Server) Unblock() {
	s.queue.Unblock()
}

// Close stops accepting new connections, lets in-flight connections wind
// down, and releases every blocked Recv call.
func (s *Server) Close() error {
	s.cancel()
	s.queue.Unblock()
	return s.pool.Close()
}
