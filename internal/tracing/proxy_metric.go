// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/tombee/logfire-go/internal/log"
)

// ProxyMeterProvider is the metrics counterpart of ProxyTracerProvider.
// Instruments and callbacks created through it are re-created on the new
// delegate whenever SetProvider is called.
type ProxyMeterProvider struct {
	embedded.MeterProvider

	mu         sync.Mutex
	delegate   metric.MeterProvider
	suppressed map[string]bool
	meters     map[meterKey]*proxyMeter
}

var _ metric.MeterProvider = (*ProxyMeterProvider)(nil)

type meterKey struct {
	name      string
	version   string
	schemaURL string
}

// NewProxyMeterProvider returns a proxy bound to delegate, or to a no-op
// provider when delegate is nil.
func NewProxyMeterProvider(delegate metric.MeterProvider) *ProxyMeterProvider {
	if delegate == nil {
		delegate = noop.NewMeterProvider()
	}
	return &ProxyMeterProvider{
		delegate:   delegate,
		suppressed: make(map[string]bool),
		meters:     make(map[meterKey]*proxyMeter),
	}
}

// Meter implements metric.MeterProvider.
func (p *ProxyMeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	cfg := metric.NewMeterConfig(opts...)
	key := meterKey{name: name, version: cfg.InstrumentationVersion(), schemaURL: cfg.SchemaURL()}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.meters[key]; ok {
		return m
	}
	m := &proxyMeter{provider: p, name: name, opts: opts}
	m.delegate = p.providerFor(name).Meter(name, opts...)
	p.meters[key] = m
	return m
}

// SetProvider rebinds every meter, instrument and callback to delegate.
func (p *ProxyMeterProvider) SetProvider(delegate metric.MeterProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = delegate
	p.rebindLocked()
}

// SuppressScopes binds the named scopes to a no-op meter.
func (p *ProxyMeterProvider) SuppressScopes(scopes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range scopes {
		p.suppressed[s] = true
	}
	p.rebindLocked()
}

// Provider returns the current delegate.
func (p *ProxyMeterProvider) Provider() metric.MeterProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delegate
}

func (p *ProxyMeterProvider) providerFor(scope string) metric.MeterProvider {
	if p.suppressed[scope] {
		return noop.NewMeterProvider()
	}
	return p.delegate
}

func (p *ProxyMeterProvider) rebindLocked() {
	for _, m := range p.meters {
		m.delegate = p.providerFor(m.name).Meter(m.name, m.opts...)
		for _, inst := range m.instruments {
			if err := inst.bind(m.delegate); err != nil {
				log.InternalError(context.Background(), "metrics.rebind", err)
			}
		}
		for _, reg := range m.callbacks {
			reg.bindLocked(m.delegate)
		}
	}
}

// proxyMeter creates proxy instruments. Its mutable state is guarded by
// the provider's mutex.
type proxyMeter struct {
	embedded.Meter

	provider    *ProxyMeterProvider
	name        string
	opts        []metric.MeterOption
	delegate    metric.Meter
	instruments []binder
	callbacks   []*proxyRegistration
}

var _ metric.Meter = (*proxyMeter)(nil)

type binder interface {
	bind(metric.Meter) error
}

// forward holds the current delegate instrument. fallback is used until a
// delegate has been created successfully.
type forward[T any] struct {
	d        atomic.Pointer[T]
	fallback T
	create   func(metric.Meter) (T, error)
}

func (f *forward[T]) bind(m metric.Meter) error {
	v, err := f.create(m)
	if err != nil {
		if f.d.Load() == nil {
			f.d.Store(&f.fallback)
		}
		return err
	}
	f.d.Store(&v)
	return nil
}

func (f *forward[T]) get() T { return *f.d.Load() }

// observable reports the delegate behind a proxy observable instrument.
type observable interface {
	observable() metric.Observable
}

func (f *forward[T]) observable() metric.Observable {
	v, _ := any(f.get()).(metric.Observable)
	return v
}

// register binds a new proxy instrument and tracks it for rebinding. The
// proxy is usable even when err is non-nil.
func register[T any](m *proxyMeter, b binder, f *forward[T], fallback T, create func(metric.Meter) (T, error)) error {
	m.provider.mu.Lock()
	defer m.provider.mu.Unlock()
	f.fallback = fallback
	f.create = create
	m.instruments = append(m.instruments, b)
	return b.bind(m.delegate)
}

func enabled(ctx context.Context, inst any) bool {
	if e, ok := inst.(interface{ Enabled(context.Context) bool }); ok {
		return e.Enabled(ctx)
	}
	return true
}

type proxyInt64Counter struct {
	metric.Int64Counter
	forward[metric.Int64Counter]
}

func (c *proxyInt64Counter) Add(ctx context.Context, v int64, opts ...metric.AddOption) {
	c.get().Add(ctx, v, opts...)
}
func (c *proxyInt64Counter) Enabled(ctx context.Context) bool { return enabled(ctx, c.get()) }

type proxyInt64UpDownCounter struct {
	metric.Int64UpDownCounter
	forward[metric.Int64UpDownCounter]
}

func (c *proxyInt64UpDownCounter) Add(ctx context.Context, v int64, opts ...metric.AddOption) {
	c.get().Add(ctx, v, opts...)
}
func (c *proxyInt64UpDownCounter) Enabled(ctx context.Context) bool { return enabled(ctx, c.get()) }

type proxyInt64Histogram struct {
	metric.Int64Histogram
	forward[metric.Int64Histogram]
}

func (h *proxyInt64Histogram) Record(ctx context.Context, v int64, opts ...metric.RecordOption) {
	h.get().Record(ctx, v, opts...)
}
func (h *proxyInt64Histogram) Enabled(ctx context.Context) bool { return enabled(ctx, h.get()) }

type proxyInt64Gauge struct {
	metric.Int64Gauge
	forward[metric.Int64Gauge]
}

func (g *proxyInt64Gauge) Record(ctx context.Context, v int64, opts ...metric.RecordOption) {
	g.get().Record(ctx, v, opts...)
}
func (g *proxyInt64Gauge) Enabled(ctx context.Context) bool { return enabled(ctx, g.get()) }

type proxyFloat64Counter struct {
	metric.Float64Counter
	forward[metric.Float64Counter]
}

func (c *proxyFloat64Counter) Add(ctx context.Context, v float64, opts ...metric.AddOption) {
	c.get().Add(ctx, v, opts...)
}
func (c *proxyFloat64Counter) Enabled(ctx context.Context) bool { return enabled(ctx, c.get()) }

type proxyFloat64UpDownCounter struct {
	metric.Float64UpDownCounter
	forward[metric.Float64UpDownCounter]
}

func (c *proxyFloat64UpDownCounter) Add(ctx context.Context, v float64, opts ...metric.AddOption) {
	c.get().Add(ctx, v, opts...)
}
func (c *proxyFloat64UpDownCounter) Enabled(ctx context.Context) bool { return enabled(ctx, c.get()) }

type proxyFloat64Histogram struct {
	metric.Float64Histogram
	forward[metric.Float64Histogram]
}

func (h *proxyFloat64Histogram) Record(ctx context.Context, v float64, opts ...metric.RecordOption) {
	h.get().Record(ctx, v, opts...)
}
func (h *proxyFloat64Histogram) Enabled(ctx context.Context) bool { return enabled(ctx, h.get()) }

type proxyFloat64Gauge struct {
	metric.Float64Gauge
	forward[metric.Float64Gauge]
}

func (g *proxyFloat64Gauge) Record(ctx context.Context, v float64, opts ...metric.RecordOption) {
	g.get().Record(ctx, v, opts...)
}
func (g *proxyFloat64Gauge) Enabled(ctx context.Context) bool { return enabled(ctx, g.get()) }

// Observable instruments have no methods of their own; the embedded
// interface only supplies the marker methods.
type proxyInt64ObservableCounter struct {
	metric.Int64ObservableCounter
	forward[metric.Int64ObservableCounter]
}

type proxyInt64ObservableUpDownCounter struct {
	metric.Int64ObservableUpDownCounter
	forward[metric.Int64ObservableUpDownCounter]
}

type proxyInt64ObservableGauge struct {
	metric.Int64ObservableGauge
	forward[metric.Int64ObservableGauge]
}

type proxyFloat64ObservableCounter struct {
	metric.Float64ObservableCounter
	forward[metric.Float64ObservableCounter]
}

type proxyFloat64ObservableUpDownCounter struct {
	metric.Float64ObservableUpDownCounter
	forward[metric.Float64ObservableUpDownCounter]
}

type proxyFloat64ObservableGauge struct {
	metric.Float64ObservableGauge
	forward[metric.Float64ObservableGauge]
}

func (m *proxyMeter) Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	p := &proxyInt64Counter{Int64Counter: noop.Int64Counter{}}
	err := register(m, p, &p.forward, metric.Int64Counter(noop.Int64Counter{}), func(d metric.Meter) (metric.Int64Counter, error) {
		return d.Int64Counter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64UpDownCounter(name string, opts ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	p := &proxyInt64UpDownCounter{Int64UpDownCounter: noop.Int64UpDownCounter{}}
	err := register(m, p, &p.forward, metric.Int64UpDownCounter(noop.Int64UpDownCounter{}), func(d metric.Meter) (metric.Int64UpDownCounter, error) {
		return d.Int64UpDownCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64Histogram(name string, opts ...metric.Int64HistogramOption) (metric.Int64Histogram, error) {
	p := &proxyInt64Histogram{Int64Histogram: noop.Int64Histogram{}}
	err := register(m, p, &p.forward, metric.Int64Histogram(noop.Int64Histogram{}), func(d metric.Meter) (metric.Int64Histogram, error) {
		return d.Int64Histogram(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64Gauge(name string, opts ...metric.Int64GaugeOption) (metric.Int64Gauge, error) {
	p := &proxyInt64Gauge{Int64Gauge: noop.Int64Gauge{}}
	err := register(m, p, &p.forward, metric.Int64Gauge(noop.Int64Gauge{}), func(d metric.Meter) (metric.Int64Gauge, error) {
		return d.Int64Gauge(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64ObservableCounter(name string, opts ...metric.Int64ObservableCounterOption) (metric.Int64ObservableCounter, error) {
	p := &proxyInt64ObservableCounter{Int64ObservableCounter: noop.Int64ObservableCounter{}}
	err := register(m, p, &p.forward, metric.Int64ObservableCounter(noop.Int64ObservableCounter{}), func(d metric.Meter) (metric.Int64ObservableCounter, error) {
		return d.Int64ObservableCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64ObservableUpDownCounter(name string, opts ...metric.Int64ObservableUpDownCounterOption) (metric.Int64ObservableUpDownCounter, error) {
	p := &proxyInt64ObservableUpDownCounter{Int64ObservableUpDownCounter: noop.Int64ObservableUpDownCounter{}}
	err := register(m, p, &p.forward, metric.Int64ObservableUpDownCounter(noop.Int64ObservableUpDownCounter{}), func(d metric.Meter) (metric.Int64ObservableUpDownCounter, error) {
		return d.Int64ObservableUpDownCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Int64ObservableGauge(name string, opts ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	p := &proxyInt64ObservableGauge{Int64ObservableGauge: noop.Int64ObservableGauge{}}
	err := register(m, p, &p.forward, metric.Int64ObservableGauge(noop.Int64ObservableGauge{}), func(d metric.Meter) (metric.Int64ObservableGauge, error) {
		return d.Int64ObservableGauge(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64Counter(name string, opts ...metric.Float64CounterOption) (metric.Float64Counter, error) {
	p := &proxyFloat64Counter{Float64Counter: noop.Float64Counter{}}
	err := register(m, p, &p.forward, metric.Float64Counter(noop.Float64Counter{}), func(d metric.Meter) (metric.Float64Counter, error) {
		return d.Float64Counter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64UpDownCounter(name string, opts ...metric.Float64UpDownCounterOption) (metric.Float64UpDownCounter, error) {
	p := &proxyFloat64UpDownCounter{Float64UpDownCounter: noop.Float64UpDownCounter{}}
	err := register(m, p, &p.forward, metric.Float64UpDownCounter(noop.Float64UpDownCounter{}), func(d metric.Meter) (metric.Float64UpDownCounter, error) {
		return d.Float64UpDownCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64Histogram(name string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	p := &proxyFloat64Histogram{Float64Histogram: noop.Float64Histogram{}}
	err := register(m, p, &p.forward, metric.Float64Histogram(noop.Float64Histogram{}), func(d metric.Meter) (metric.Float64Histogram, error) {
		return d.Float64Histogram(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64Gauge(name string, opts ...metric.Float64GaugeOption) (metric.Float64Gauge, error) {
	p := &proxyFloat64Gauge{Float64Gauge: noop.Float64Gauge{}}
	err := register(m, p, &p.forward, metric.Float64Gauge(noop.Float64Gauge{}), func(d metric.Meter) (metric.Float64Gauge, error) {
		return d.Float64Gauge(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64ObservableCounter(name string, opts ...metric.Float64ObservableCounterOption) (metric.Float64ObservableCounter, error) {
	p := &proxyFloat64ObservableCounter{Float64ObservableCounter: noop.Float64ObservableCounter{}}
	err := register(m, p, &p.forward, metric.Float64ObservableCounter(noop.Float64ObservableCounter{}), func(d metric.Meter) (metric.Float64ObservableCounter, error) {
		return d.Float64ObservableCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64ObservableUpDownCounter(name string, opts ...metric.Float64ObservableUpDownCounterOption) (metric.Float64ObservableUpDownCounter, error) {
	p := &proxyFloat64ObservableUpDownCounter{Float64ObservableUpDownCounter: noop.Float64ObservableUpDownCounter{}}
	err := register(m, p, &p.forward, metric.Float64ObservableUpDownCounter(noop.Float64ObservableUpDownCounter{}), func(d metric.Meter) (metric.Float64ObservableUpDownCounter, error) {
		return d.Float64ObservableUpDownCounter(name, opts...)
	})
	return p, err
}

func (m *proxyMeter) Float64ObservableGauge(name string, opts ...metric.Float64ObservableGaugeOption) (metric.Float64ObservableGauge, error) {
	p := &proxyFloat64ObservableGauge{Float64ObservableGauge: noop.Float64ObservableGauge{}}
	err := register(m, p, &p.forward, metric.Float64ObservableGauge(noop.Float64ObservableGauge{}), func(d metric.Meter) (metric.Float64ObservableGauge, error) {
		return d.Float64ObservableGauge(name, opts...)
	})
	return p, err
}

// RegisterCallback implements metric.Meter. The callback is re-registered
// on every rebind, and observations of proxy instruments are redirected to
// their current delegates.
func (m *proxyMeter) RegisterCallback(f metric.Callback, instruments ...metric.Observable) (metric.Registration, error) {
	m.provider.mu.Lock()
	defer m.provider.mu.Unlock()

	reg := &proxyRegistration{meter: m, callback: f, instruments: instruments}
	if err := reg.register(m.delegate); err != nil {
		return nil, err
	}
	m.callbacks = append(m.callbacks, reg)
	return reg, nil
}

type proxyRegistration struct {
	embedded.Registration

	meter       *proxyMeter
	callback    metric.Callback
	instruments []metric.Observable
	current     metric.Registration
}

func (r *proxyRegistration) register(d metric.Meter) error {
	delegates := make([]metric.Observable, len(r.instruments))
	for i, inst := range r.instruments {
		delegates[i] = unwrapObservable(inst)
	}
	cb := r.callback
	current, err := d.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		return cb(ctx, proxyObserver{next: o})
	}, delegates...)
	if err != nil {
		return err
	}
	r.current = current
	return nil
}

func (r *proxyRegistration) bindLocked(d metric.Meter) {
	if r.current != nil {
		if err := r.current.Unregister(); err != nil {
			log.InternalError(context.Background(), "metrics.unregister", err)
		}
		r.current = nil
	}
	if err := r.register(d); err != nil {
		log.InternalError(context.Background(), "metrics.register", err)
	}
}

// Unregister implements metric.Registration.
func (r *proxyRegistration) Unregister() error {
	m := r.meter
	m.provider.mu.Lock()
	defer m.provider.mu.Unlock()

	for i, reg := range m.callbacks {
		if reg == r {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			break
		}
	}
	if r.current == nil {
		return nil
	}
	err := r.current.Unregister()
	r.current = nil
	return err
}

func unwrapObservable(inst metric.Observable) metric.Observable {
	if p, ok := inst.(observable); ok {
		if d := p.observable(); d != nil {
			return d
		}
	}
	return inst
}

// proxyObserver translates proxy instruments passed by user callbacks into
// the delegate instruments the SDK knows about.
type proxyObserver struct {
	embedded.Observer
	next metric.Observer
}

func (o proxyObserver) ObserveInt64(inst metric.Int64Observable, v int64, opts ...metric.ObserveOption) {
	if d, ok := unwrapObservable(inst).(metric.Int64Observable); ok {
		inst = d
	}
	o.next.ObserveInt64(inst, v, opts...)
}

func (o proxyObserver) ObserveFloat64(inst metric.Float64Observable, v float64, opts ...metric.ObserveOption) {
	if d, ok := unwrapObservable(inst).(metric.Float64Observable); ok {
		inst = d
	}
	o.next.ObserveFloat64(inst, v, opts...)
}
