package inpage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/config"
	"github.com/filegrind/inpage-go/engine"
)

// Option configures a Provider.
type Option func(*options)

type options struct {
	cfg        config.Config
	log        *zap.Logger
	reg        prometheus.Registerer
	idGen      engine.IDGenerator
	middleware []engine.Middleware
}

func defaultOptions() options {
	return options{
		cfg: config.Default(),
		log: zap.NewNop(),
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger. The provider derives named children from it.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRegisterer registers the provider's collectors on reg and enables
// metrics. Without it, enabled metrics go to the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.reg = reg
	}
}

// WithIDGenerator replaces the generator of internal request ids.
func WithIDGenerator(gen engine.IDGenerator) Option {
	return func(o *options) {
		o.idGen = gen
	}
}

// WithMiddleware appends steps to the request chain, just in front of the
// RPC channel.
func WithMiddleware(mw ...engine.Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}
