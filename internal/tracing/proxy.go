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

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/logfire-go/internal/tracing/suppress"
)

// ProxyTracerProvider hands out tracers that stay valid when the real
// provider is replaced. Tracers obtained before Configure forward to a
// no-op provider and start forwarding to the real one once it is set.
//
// All mutation happens under one mutex. Starting a span only loads an
// atomic pointer.
type ProxyTracerProvider struct {
	embedded.TracerProvider

	mu         sync.Mutex
	delegate   trace.TracerProvider
	suppressed map[string]bool
	tracers    map[tracerKey]*ProxyTracer
}

var _ trace.TracerProvider = (*ProxyTracerProvider)(nil)

type tracerKey struct {
	name      string
	version   string
	schemaURL string
}

// NewProxyTracerProvider returns a proxy bound to delegate, or to a no-op
// provider when delegate is nil.
func NewProxyTracerProvider(delegate trace.TracerProvider) *ProxyTracerProvider {
	if delegate == nil {
		delegate = noop.NewTracerProvider()
	}
	return &ProxyTracerProvider{
		delegate:   delegate,
		suppressed: make(map[string]bool),
		tracers:    make(map[tracerKey]*ProxyTracer),
	}
}

// Tracer implements trace.TracerProvider. Repeated calls with the same
// name, version and schema return the same proxy.
func (p *ProxyTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	cfg := trace.NewTracerConfig(opts...)
	key := tracerKey{name: name, version: cfg.InstrumentationVersion(), schemaURL: cfg.SchemaURL()}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tracers[key]; ok {
		return t
	}
	t := &ProxyTracer{name: name, opts: opts}
	t.bind(p.providerFor(name))
	p.tracers[key] = t
	return t
}

// SetProvider rebinds every tracer handed out so far, and all future ones,
// to delegate.
func (p *ProxyTracerProvider) SetProvider(delegate trace.TracerProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = delegate
	p.rebindLocked()
}

// SuppressScopes binds the named instrumentation scopes to a no-op tracer
// regardless of the real provider.
func (p *ProxyTracerProvider) SuppressScopes(scopes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range scopes {
		p.suppressed[s] = true
	}
	p.rebindLocked()
}

// Provider returns the current delegate.
func (p *ProxyTracerProvider) Provider() trace.TracerProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delegate
}

func (p *ProxyTracerProvider) rebindLocked() {
	for _, t := range p.tracers {
		t.bind(p.providerFor(t.name))
	}
}

func (p *ProxyTracerProvider) providerFor(scope string) trace.TracerProvider {
	if p.suppressed[scope] {
		return noop.NewTracerProvider()
	}
	return p.delegate
}

// ProxyTracer forwards to the tracer of the currently bound provider.
type ProxyTracer struct {
	embedded.Tracer

	name     string
	opts     []trace.TracerOption
	delegate atomic.Pointer[tracerRef]
}

var _ trace.Tracer = (*ProxyTracer)(nil)

type tracerRef struct{ trace.Tracer }

func (t *ProxyTracer) bind(tp trace.TracerProvider) {
	t.delegate.Store(&tracerRef{tp.Tracer(t.name, t.opts...)})
}

// Start implements trace.Tracer. Inside a suppressed context the returned
// span is non-recording and ctx is returned unchanged.
func (t *ProxyTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if suppress.IsSuppressed(ctx) {
		return ctx, noop.Span{}
	}
	return t.delegate.Load().Start(ctx, spanName, opts...)
}
