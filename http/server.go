package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrServerClosed = errors.New("http: server closed")

// Spawner starts a schedulable unit.
type Spawner interface {
	Spawn(name string, task func(ctx context.Context)) error
}

type goSpawner struct{}

func (goSpawner) Spawn(name string, task func(ctx context.Context)) error {
	go task(context.Background())
	return nil
}

type Server struct {
	handler     Handler
	spawner     Spawner
	logger      *slog.Logger
	tracer      trace.Tracer
	idleTimeout time.Duration

	sessionPool sync.Pool

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}

	active        atomic.Int64
	activeCounter metric.Int64UpDownCounter
}

type ServerOption func(server *Server)

func WithSpawner(spawner Spawner) ServerOption {
	return func(server *Server) {
		server.spawner = spawner
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(server *Server) {
		server.logger = logger
	}
}

// WithIdleTimeout bounds every read and write on a connection. Zero disables it.
func WithIdleTimeout(timeout time.Duration) ServerOption {
	return func(server *Server) {
		server.idleTimeout = timeout
	}
}

func WithTracerProvider(provider trace.TracerProvider) ServerOption {
	return func(server *Server) {
		server.tracer = provider.Tracer(instrumentationName)
	}
}

func WithMeterProvider(provider metric.MeterProvider) ServerOption {
	return func(server *Server) {
		server.activeCounter = newActiveCounter(provider.Meter(instrumentationName))
	}
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	server := &Server{
		handler:   handler,
		spawner:   goSpawner{},
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
	server.sessionPool.New = func() any {
		return &session{
			reader: bufio.NewReaderSize(nil, DefaultReadBufferSize),
			writer: bufio.NewWriterSize(nil, DefaultWriteBufferSize),
		}
	}

	for _, opt := range opts {
		opt(server)
	}
	if server.activeCounter == nil {
		server.activeCounter = newActiveCounter(otel.Meter(instrumentationName))
	}

	return server
}

func newActiveCounter(meter metric.Meter) metric.Int64UpDownCounter {
	counter, err := meter.Int64UpDownCounter("blobhttp.sessions.active",
		metric.WithDescription("The number of open connection sessions"),
		metric.WithUnit("{session}"))
	if err != nil {
		otel.Handle(err)
	}
	return counter
}

// Active returns the number of sessions currently being served.
func (server *Server) Active() int64 {
	return server.active.Load()
}

// ListenAndServe binds addr and serves it until ctx is done or the server is closed.
// Setup failures are logged and returned.
func (server *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		server.logger.Error("listen", "error", err)
		return err
	}

	return server.Serve(ctx, listener)
}

// Serve accepts connections on listener and spawns one session per connection.
// Accept errors are logged and retried after a backoff; the loop only ends when
// the listener is closed, returning ErrServerClosed.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	if !server.trackListener(listener, true) {
		listener.Close()
		return ErrServerClosed
	}
	defer server.trackListener(listener, false)

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()

	server.logger.Info("listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if server.isClosed() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			server.logger.Error("accept", "error", err)

			select {
			case <-time.After(retry.NextBackOff()):
			case <-ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		retry.Reset()

		err = server.spawner.Spawn("session", func(ctx context.Context) {
			server.ServeConn(ctx, conn)
		})
		if err != nil {
			server.logger.Error("spawn", "error", err)
			conn.Close()
		}
	}
}

// Close closes every listener and every open connection. In-flight requests are abandoned.
func (server *Server) Close() error {
	server.mu.Lock()
	defer server.mu.Unlock()

	server.closed = true

	var errs []error
	for listener := range server.listeners {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(server.listeners, listener)
	}
	for conn := range server.conns {
		conn.Close()
		delete(server.conns, conn)
	}

	return errors.Join(errs...)
}

func (server *Server) isClosed() bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.closed
}

func (server *Server) trackListener(listener net.Listener, add bool) bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	if add {
		if server.closed {
			return false
		}
		server.listeners[listener] = struct{}{}
	} else {
		delete(server.listeners, listener)
	}
	return true
}

func (server *Server) trackConn(conn net.Conn, add bool) bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	if add {
		if server.closed {
			return false
		}
		server.conns[conn] = struct{}{}
	} else {
		delete(server.conns, conn)
	}
	return true
}
