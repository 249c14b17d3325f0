package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

// ServerOption is the subset of fasthttp.Server knobs the services tune.
type ServerOption struct {
	Name string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IdleTimeout bounds keep-alive connections; long idle conns pile up open files.
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration

	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int

	Concurrency   int
	MaxConnsPerIP int

	Logger logger.Logger
}

// DefaultServerOption suits a small JSON API: request bodies are a phone number and a message.
var DefaultServerOption = ServerOption{
	ReadTimeout:           2500 * time.Millisecond,
	WriteTimeout:          2500 * time.Millisecond,
	IdleTimeout:           10 * time.Second,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    2 * time.Hour,
	ReadBufferSize:        4 * 1024,
	WriteBufferSize:       4 * 1024,
	MaxRequestBodySize:    64 * 1024,
	Concurrency:           30_000,
	MaxConnsPerIP:         10_000,
}

// WithTimeouts overrides read and write timeouts given in milliseconds; non-positive values keep the default.
func (o ServerOption) WithTimeouts(readMs, writeMs int) ServerOption {
	if readMs > 0 {
		o.ReadTimeout = time.Duration(readMs) * time.Millisecond
	}
	if writeMs > 0 {
		o.WriteTimeout = time.Duration(writeMs) * time.Millisecond
	}
	return o
}

// WithBuffers overrides per-connection buffer sizes; the read buffer also caps header size.
func (o ServerOption) WithBuffers(read, write int) ServerOption {
	if read > 0 {
		o.ReadBufferSize = read
	}
	if write > 0 {
		o.WriteBufferSize = write
	}
	return o
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func newServer(o ServerOption) *fasthttp.Server {
	lg := o.Logger
	if lg == nil {
		lg = logger.GetLogger()
	}
	return &fasthttp.Server{
		Name:                         o.Name,
		Concurrency:                  o.Concurrency,
		ReadBufferSize:               o.ReadBufferSize,
		WriteBufferSize:              o.WriteBufferSize,
		ReadTimeout:                  o.ReadTimeout,
		WriteTimeout:                 o.WriteTimeout,
		IdleTimeout:                  o.IdleTimeout,
		MaxConnsPerIP:                o.MaxConnsPerIP,
		MaxIdleWorkerDuration:        o.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:           o.TCPKeepalivePeriod,
		TCPKeepalive:                 true,
		MaxRequestBodySize:           o.MaxRequestBodySize,
		DisablePreParseMultipartForm: true,
		LogAllErrors:                 true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,
		Logger:                       lg,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			lg.Warn("[xhttp] connection error", "error", err, "remote", ctx.RemoteAddr().String())
			WriteError(ctx, StatusBadRequest, StatusText(StatusBadRequest))
		},
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: CreateDefaultRouter(),
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return errors.Wrapf(e.Server.ListenAndServe(addr), "listen %s", addr)
}

// DoRouting wraps the router in the registered middlewares, first registered outermost.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	e.Server.Handler = e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		e.Server.Handler = m(e.Server.Handler)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
}

// Use appends middleware to the chain.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown waits for in-flight requests and closes idle connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down", "pid", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		logger.Warn("[xhttp] error while shutting down", "error", err)
	}
}
