package http

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/freekieb7/blobhttp/asset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/freekieb7/blobhttp/http"
	DefaultServerName   = "blobhttp"
)

// Lookuper resolves a request target to a pre-compressed blob.
type Lookuper interface {
	Lookup(path string) ([]byte, bool)
}

// StaticHandler answers GET and HEAD requests from a fixed set of gzip blobs.
type StaticHandler struct {
	store       Lookuper
	serverName  string
	contentType func(path string) string
	logger      *slog.Logger
	meter       metric.Meter

	served        atomic.Int64
	servedCounter metric.Int64Counter
}

type StaticOption func(handler *StaticHandler)

func WithServerName(name string) StaticOption {
	return func(handler *StaticHandler) {
		handler.serverName = name
	}
}

func WithContentTypeResolver(resolve func(path string) string) StaticOption {
	return func(handler *StaticHandler) {
		handler.contentType = resolve
	}
}

func WithStaticLogger(logger *slog.Logger) StaticOption {
	return func(handler *StaticHandler) {
		handler.logger = logger
	}
}

func WithStaticMeter(meter metric.Meter) StaticOption {
	return func(handler *StaticHandler) {
		handler.meter = meter
	}
}

func NewStaticHandler(store Lookuper, opts ...StaticOption) *StaticHandler {
	handler := &StaticHandler{
		store:       store,
		serverName:  DefaultServerName,
		contentType: asset.ContentType,
		logger:      slog.Default(),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(handler)
	}

	counter, err := handler.meter.Int64Counter("blobhttp.requests.served",
		metric.WithDescription("The number of successfully served GET requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		otel.Handle(err)
	}
	handler.servedCounter = counter

	return handler
}

// Served returns the number of successful GET responses produced so far.
func (handler *StaticHandler) Served() int64 {
	return handler.served.Load()
}

func (handler *StaticHandler) Handler() Handler {
	return handler.Handle
}

func (handler *StaticHandler) Handle(req *Request, res *Response) {
	res.Proto = req.Proto
	res.KeepAlive = req.KeepAlive
	res.Headers.Set("Server", handler.serverName)

	// Make sure we can handle the method
	if req.Method != MethodGet && req.Method != MethodHead {
		handler.badRequest(res, "Unknown HTTP-method")
		return
	}

	// Request path must be absolute and not contain ".."
	if req.Target == "" || req.Target[0] != '/' || strings.Contains(req.Target, "..") {
		handler.badRequest(res, "Illegal request-target")
		return
	}

	handler.logger.Info("serving", "served", handler.served.Load(), "path", req.Target)

	body, found := handler.store.Lookup(req.Target)
	if !found {
		res.WithStatus(StatusNotFound).
			WithHTML("The resource '" + req.Target + "' was not found.")
		return
	}

	res.WithStatus(StatusOK).
		WithHeader("Content-Type", handler.contentType(req.Target))
	res.ContentLength = len(body)

	if req.Method == MethodHead {
		res.SkipBody = true
		return
	}

	res.WithHeader("Content-Encoding", "gzip")
	res.Body = body

	handler.served.Add(1)
	if handler.servedCounter != nil {
		handler.servedCounter.Add(req.Context(), 1,
			metric.WithAttributes(attribute.String("http.target", req.Target)))
	}
}

func (handler *StaticHandler) badRequest(res *Response, why string) {
	res.WithStatus(StatusBadRequest).WithHTML(why)
}
