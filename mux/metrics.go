package mux

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts frames crossing the multiplexer. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	framesIn   *prometheus.CounterVec
	framesOut  *prometheus.CounterVec
	framesDrop *prometheus.CounterVec
}

// NewMetrics creates the frame counters and registers them on reg. Counters
// already registered by another multiplexer are shared.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		framesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mux",
				Name:      "frames_received_total",
				Help:      "Frames delivered to a logical channel",
			},
			[]string{"channel"},
		),
		framesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mux",
				Name:      "frames_sent_total",
				Help:      "Frames written to the transport",
			},
			[]string{"channel"},
		),
		framesDrop: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mux",
				Name:      "frames_discarded_total",
				Help:      "Inbound frames discarded before reaching a channel",
			},
			[]string{"reason"},
		),
	}
	var err error
	if m.framesIn, err = register(reg, m.framesIn); err != nil {
		return nil, err
	}
	if m.framesOut, err = register(reg, m.framesOut); err != nil {
		return nil, err
	}
	if m.framesDrop, err = register(reg, m.framesDrop); err != nil {
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

func (m *Metrics) frameIn(channel string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(channel).Inc()
}

func (m *Metrics) frameOut(channel string) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(channel).Inc()
}

func (m *Metrics) discarded(reason string) {
	if m == nil {
		return
	}
	m.framesDrop.WithLabelValues(reason).Inc()
}
