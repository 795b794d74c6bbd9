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

// Package logfire is an observability SDK built on OpenTelemetry.
//
// Configure builds the span and metric pipelines and binds them into
// process-wide proxy providers:
//
//	lf, err := logfire.Configure(logfire.WithServiceName("checkout"))
//	if err != nil {
//		return err
//	}
//	defer lf.Shutdown(context.Background())
//
//	ctx, span := lf.Span(ctx, "charging {user}", attribute.String("user", id))
//	defer span.End()
//	lf.Info(ctx, "charged {amount}", attribute.Float64("amount", 9.99))
//
// Tracers and meters obtained before Configure, including those of
// libraries that use the global OpenTelemetry providers, start forwarding
// to the configured pipeline once it exists.
package logfire

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/callsite"
	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/internal/tracing"
	"github.com/tombee/logfire-go/internal/tracing/scrub"
	"github.com/tombee/logfire-go/pkg/autotrace"
)

// ScopeName is the instrumentation scope of spans created through this
// package.
const ScopeName = "logfire"

// Level is a severity expressed as an OpenTelemetry severity number.
type Level = attrs.Level

const (
	LevelTrace  = attrs.LevelTrace
	LevelDebug  = attrs.LevelDebug
	LevelInfo   = attrs.LevelInfo
	LevelNotice = attrs.LevelNotice
	LevelWarn   = attrs.LevelWarn
	LevelError  = attrs.LevelError
	LevelFatal  = attrs.LevelFatal
)

// Warning is a user-facing warning raised by the SDK.
type Warning = callsite.Warning

// Logfire is a handle to a configured pipeline. Handles derived with
// WithTags and WithSampleRate share the pipeline of their parent.
type Logfire struct {
	core       *core
	tags       []string
	sampleRate float64
}

type core struct {
	mu       sync.Mutex
	pipeline *tracing.Pipeline

	tracerProvider *tracing.ProxyTracerProvider
	meterProvider  *tracing.ProxyMeterProvider
	tracer         trace.Tracer

	settings atomic.Pointer[settings]
	open     tracing.OpenSpans[Span, *Span]
	finder   *callsite.Finder
}

type settings struct {
	scrubber          *scrub.Scrubber
	inspectArguments  bool
	exceptionCallback ExceptionCallback
	onWarning         func(Warning)
}

func newCore() *core {
	c := &core{
		tracerProvider: tracing.NewProxyTracerProvider(nil),
		meterProvider:  tracing.NewProxyMeterProvider(nil),
		finder:         callsite.NewFinder(),
	}
	c.tracer = c.tracerProvider.Tracer(ScopeName)
	c.settings.Store(&settings{inspectArguments: true})
	c.finder.OnWarning(func(w Warning) {
		if fn := c.settings.Load().onWarning; fn != nil {
			fn(w)
		}
	})
	return c
}

var defaultLogfire = &Logfire{core: newCore()}

// Default returns the process-wide instance. It can be used before
// Configure; spans are discarded until then.
func Default() *Logfire {
	return defaultLogfire
}

// Configure (re)configures the process-wide instance and installs its
// providers and the W3C propagator as the OpenTelemetry globals. Calling it
// again replaces the pipeline; tracers and meters handed out earlier are
// rebound and the previous pipeline is flushed and shut down.
func Configure(opts ...Option) (*Logfire, error) {
	if err := defaultLogfire.core.configure(context.Background(), opts); err != nil {
		return nil, err
	}
	otel.SetTracerProvider(defaultLogfire.core.tracerProvider)
	otel.SetMeterProvider(defaultLogfire.core.meterProvider)
	otel.SetTextMapPropagator(tracing.W3CPropagator())
	return defaultLogfire, nil
}

// New builds an independent instance that leaves the OpenTelemetry
// globals alone.
func New(opts ...Option) (*Logfire, error) {
	l := &Logfire{core: newCore()}
	if err := l.core.configure(context.Background(), opts); err != nil {
		return nil, err
	}
	return l, nil
}

func (c *core) configure(ctx context.Context, opts []Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := tracing.LoadConfig(o.configFile)
	if err != nil {
		return err
	}
	for _, fn := range o.config {
		fn(&cfg)
	}

	p, err := tracing.NewPipeline(ctx, cfg, o.pipeline)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.pipeline
	c.pipeline = p
	c.settings.Store(&settings{
		scrubber:          p.Scrubber,
		inspectArguments:  o.inspectArguments,
		exceptionCallback: o.exceptionCallback,
		onWarning:         o.onWarning,
	})
	c.tracerProvider.SetProvider(p.TracerProvider)
	c.meterProvider.SetProvider(p.MeterProvider)
	c.mu.Unlock()

	log.Default().DebugContext(ctx, "logfire configured",
		slog.String("service", cfg.ServiceName),
		slog.Bool("export", cfg.ExportEnabled()),
		slog.Bool("console", cfg.Console.Enabled))

	if old != nil {
		if err := old.Shutdown(ctx); err != nil {
			log.InternalError(ctx, "configure.shutdown", err)
		}
	}
	return nil
}

func (c *core) currentPipeline() *tracing.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline
}

// WithTags returns a handle that adds tags to every span and log.
func (l *Logfire) WithTags(tags ...string) *Logfire {
	out := *l
	out.tags = append(append([]string(nil), l.tags...), tags...)
	return &out
}

// WithSampleRate returns a handle whose traces are additionally sampled at
// rate. The decision is made when a trace's root span starts.
func (l *Logfire) WithSampleRate(rate float64) *Logfire {
	out := *l
	out.sampleRate = rate
	return &out
}

// Tracer returns a tracer that follows reconfiguration.
func (l *Logfire) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return l.core.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter that follows reconfiguration.
func (l *Logfire) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return l.core.meterProvider.Meter(name, opts...)
}

// TracerProvider returns the proxy tracer provider, for libraries that
// take a provider explicitly.
func (l *Logfire) TracerProvider() trace.TracerProvider {
	return l.core.tracerProvider
}

// MeterProvider returns the proxy meter provider.
func (l *Logfire) MeterProvider() metric.MeterProvider {
	return l.core.meterProvider
}

// SuppressScopes silences the spans and metrics of the named
// instrumentation scopes.
func (l *Logfire) SuppressScopes(scopes ...string) {
	l.core.tracerProvider.SuppressScopes(scopes...)
	l.core.meterProvider.SuppressScopes(scopes...)
}

// ForceFlush exports everything buffered so far.
func (l *Logfire) ForceFlush(ctx context.Context) error {
	p := l.core.currentPipeline()
	if p == nil {
		return nil
	}
	return p.ForceFlush(ctx)
}

// Shutdown ends spans that are still open, then flushes and stops the
// pipeline. Spans started afterwards are discarded.
func (l *Logfire) Shutdown(ctx context.Context) error {
	if n := l.core.open.EndAll(); n > 0 {
		log.Default().DebugContext(ctx, "ended open spans at shutdown", slog.Int("spans", n))
	}

	c := l.core
	c.mu.Lock()
	p := c.pipeline
	c.pipeline = nil
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}

// NoAutoTrace, as the first statement of a function, excludes the function
// from `logfire autotrace`. It does nothing at run time.
func NoAutoTrace() { autotrace.NoAutoTrace() }

// GetContext serializes the trace context of ctx for another process.
func GetContext(ctx context.Context) map[string]string {
	return tracing.GetContext(ctx)
}

// AttachContext continues a trace serialized by GetContext.
func AttachContext(ctx context.Context, carrier map[string]string) context.Context {
	return tracing.AttachContext(ctx, carrier)
}
