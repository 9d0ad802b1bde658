package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// Recovery converts a panic further down the chain into an error.
func Recovery(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req *jsonrpc.Request, next Handler) (resp *jsonrpc.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in request chain",
					zap.String("method", req.Method),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				resp = nil
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

// Logging records each request and its outcome at debug level.
func Logging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		start := time.Now()
		log.Debug("rpc request", zap.String("method", req.Method), zap.ByteString("id", req.ID))

		resp, err := next(ctx, req)

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.Duration("elapsed", time.Since(start)),
		}
		switch {
		case err != nil:
			log.Debug("rpc failed", append(fields, zap.Error(err))...)
		case resp != nil && resp.Error != nil:
			log.Debug("rpc error response", append(fields, zap.Int("code", resp.Error.Code))...)
		default:
			log.Debug("rpc response", fields...)
		}
		return resp, err
	}
}

// methodLabelLimit caps the distinct method labels one Metrics records.
// Later methods are counted under otherMethod.
const (
	methodLabelLimit = 64
	otherMethod      = "other"
)

// Metrics counts requests and observes their latency by method.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu      sync.Mutex
	methods map[string]struct{}
}

// NewMetrics creates the request collectors and registers them on reg.
// Collectors already registered by another provider are shared.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		methods: make(map[string]struct{}),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total number of RPC requests",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of RPC requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// methodLabel returns method while fewer than methodLabelLimit methods have
// been seen, and otherMethod for anything new after that.
func (m *Metrics) methodLabel(method string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.methods[method]; ok {
		return method
	}
	if len(m.methods) >= methodLabelLimit {
		return otherMethod
	}
	m.methods[method] = struct{}{}
	return method
}

// Middleware returns the measuring step.
func (m *Metrics) Middleware() Middleware {
	return func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		start := time.Now()

		resp, err := next(ctx, req)

		status := "success"
		switch {
		case err != nil:
			status = "error"
		case resp != nil && resp.Error != nil:
			status = "remote_error"
		}
		method := m.methodLabel(req.Method)
		m.calls.WithLabelValues(method, status).Inc()
		m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
