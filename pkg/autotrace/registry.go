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

// Package autotrace is the runtime half of automatic function tracing.
//
// The `logfire autotrace` command rewrites function bodies so that each
// instrumented function starts with
//
//	defer logfireAutoTraceXXXX.Enter(3)()
//
// or, when the function takes a context.Context named ctx,
//
//	ctx, logfireAutoTraceEnd := logfireAutoTraceXXXX.Start(ctx, 3)
//	defer logfireAutoTraceEnd()
//
// where logfireAutoTraceXXXX is a Registry generated for the file and 3 is
// the function's index in it. Spans are created through the global
// OpenTelemetry tracer provider, which logfire.Configure binds.
package autotrace

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

// ScopeName is the instrumentation scope of auto-traced spans.
const ScopeName = "logfire.autotrace"

// DefaultMessageTemplate is used when Settings.MessageTemplate is empty.
const DefaultMessageTemplate = "Calling {module}.{qualname}"

// Settings apply to every function in a registry.
type Settings struct {
	// Module is the import path of the rewritten package.
	Module string
	Tags   []string
	// SampleRate is recorded on spans when it is in (0, 1).
	SampleRate float64
	// MessageTemplate may reference {module} and {qualname}.
	MessageTemplate string
	// SpanName defaults to the message template.
	SpanName string
	// MinDuration gates span creation: functions are only traced once a
	// call has taken at least this long.
	MinDuration time.Duration
}

// CallSite identifies one instrumented function.
type CallSite struct {
	// QualName follows runtime naming, e.g. "(*Server).Handle".
	QualName string
	File     string
	Line     int
}

// Registry holds one span factory per instrumented function of a file.
type Registry struct {
	settings Settings
	sites    []CallSite
	slots    []atomic.Pointer[slot]
	tracer   trace.Tracer
	now      func() time.Time
}

// factory starts a span, or pretends to. The returned func ends it and
// must be deferred directly so it can observe panics.
type factory interface {
	start(ctx context.Context, r *Registry, i int) (context.Context, func())
}

type slot struct {
	f factory
}

// NewRegistry creates a registry. It is called from generated code, once
// per rewritten file, at package initialisation.
func NewRegistry(settings Settings, sites []CallSite) *Registry {
	if settings.MessageTemplate == "" {
		settings.MessageTemplate = DefaultMessageTemplate
	}
	if settings.SpanName == "" {
		settings.SpanName = settings.MessageTemplate
	}
	r := &Registry{
		settings: settings,
		sites:    sites,
		slots:    make([]atomic.Pointer[slot], len(sites)),
		tracer:   otel.Tracer(ScopeName),
		now:      time.Now,
	}
	for i := range sites {
		real := newSpanFactory(settings, sites[i])
		if settings.MinDuration > 0 {
			r.slots[i].Store(&slot{f: &measuring{real: real}})
		} else {
			r.slots[i].Store(&slot{f: real})
		}
	}
	return r
}

// Enter starts the i-th function's span without a parent context. The
// returned func ends it.
func (r *Registry) Enter(i int) func() {
	_, end := r.Start(context.Background(), i)
	return end
}

// Start starts the i-th function's span as a child of ctx.
func (r *Registry) Start(ctx context.Context, i int) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.slots[i].Load().f.start(ctx, r, i)
}

// Promoted reports whether the i-th function now creates real spans.
func (r *Registry) Promoted(i int) bool {
	_, measuringNow := r.slots[i].Load().f.(*measuring)
	return !measuringNow
}

// Sites returns the registry's call sites in index order.
func (r *Registry) Sites() []CallSite {
	return append([]CallSite(nil), r.sites...)
}

func (r *Registry) promote(i int, real *spanFactory) {
	r.slots[i].Store(&slot{f: real})
}

// measuring times calls until one is slow enough, then swaps the real
// factory into the slot. It never moves back.
type measuring struct {
	real *spanFactory
}

func (m *measuring) start(ctx context.Context, r *Registry, i int) (context.Context, func()) {
	begin := r.now()
	return ctx, func() {
		if r.now().Sub(begin) >= r.settings.MinDuration {
			r.promote(i, m.real)
		}
	}
}

type spanFactory struct {
	name  string
	attrs []attribute.KeyValue
}

func newSpanFactory(s Settings, site CallSite) *spanFactory {
	replacer := strings.NewReplacer("{module}", s.Module, "{qualname}", site.QualName)
	kvs := []attribute.KeyValue{
		attrs.MsgTemplate.String(s.MessageTemplate),
		attrs.Msg.String(replacer.Replace(s.MessageTemplate)),
		attrs.SpanType.String(attrs.TypeSpan),
		semconv.CodeFunction(site.QualName),
		semconv.CodeNamespace(s.Module),
	}
	if site.File != "" {
		kvs = append(kvs, semconv.CodeFilepath(site.File), semconv.CodeLineNumber(site.Line))
	}
	if len(s.Tags) > 0 {
		kvs = append(kvs, attrs.Tags.StringSlice(s.Tags))
	}
	if s.SampleRate > 0 && s.SampleRate < 1 {
		kvs = append(kvs, attrs.SampleRate.Float64(s.SampleRate))
	}
	return &spanFactory{name: s.SpanName, attrs: kvs}
}

func (f *spanFactory) start(ctx context.Context, r *Registry, _ int) (context.Context, func()) {
	ctx, span := r.tracer.Start(ctx, f.name, trace.WithAttributes(f.attrs...))
	return ctx, func() {
		if v := recover(); v != nil {
			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", v)
			}
			span.RecordError(err, trace.WithStackTrace(true))
			span.SetStatus(codes.Error, err.Error())
			span.End()
			panic(v)
		}
		span.End()
	}
}

// NoAutoTrace marks the enclosing function, when it is the first statement,
// as excluded from automatic tracing. The rewriter matches the call by name;
// at run time it does nothing.
func NoAutoTrace() {}
