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

package logfire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/internal/stack"
)

// Span is an open span. End must be called exactly once; later calls are
// ignored. Spans still open at Shutdown are ended then.
type Span struct {
	span   trace.Span
	lf     *Logfire
	remove func()
	once   sync.Once
}

// End ends the span.
func (s *Span) End(opts ...trace.SpanEndOption) {
	s.once.Do(func() {
		if s.remove != nil {
			s.remove()
		}
		s.span.End(opts...)
	})
}

// SetAttribute sets one attribute, converting value like LogArgs does.
func (s *Span) SetAttribute(key string, value any) {
	s.span.SetAttributes(anyAttribute(key, value))
}

// SetAttributes sets attributes on the span.
func (s *Span) SetAttributes(kvs ...attribute.KeyValue) {
	s.span.SetAttributes(kvs...)
}

// SetLevel sets the span's level. Spans without a level count as info.
func (s *Span) SetLevel(level Level) {
	s.span.SetAttributes(level.KeyValue())
}

// RecordError records err as an exception event, raises the span to error
// level and computes the issue fingerprint. The configured exception
// callback may adjust all three.
func (s *Span) RecordError(err error, kvs ...attribute.KeyValue) {
	recordException(s.span, err, 1, s.lf.core.settings.Load().exceptionCallback, kvs...)
}

// SpanContext returns the span's identifiers.
func (s *Span) SpanContext() trace.SpanContext { return s.span.SpanContext() }

// IsRecording reports whether the span records data.
func (s *Span) IsRecording() bool { return s.span.IsRecording() }

// OTelSpan returns the underlying OpenTelemetry span.
func (s *Span) OTelSpan() trace.Span { return s.span }

// Span starts a span named after msgTemplate. Placeholders like {user} are
// filled from kvs to build the message.
func (l *Logfire) Span(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) (context.Context, *Span) {
	return l.startSpan(ctx, msgTemplate, kvs)
}

func (l *Logfire) startSpan(ctx context.Context, tmpl string, kvs []attribute.KeyValue) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	all := l.attributes(ctx, tmpl, attrs.TypeSpan, 0, kvs)
	ctx, span := l.core.tracer.Start(ctx, tmpl, trace.WithAttributes(all...))
	s := &Span{span: span, lf: l}
	if span.IsRecording() {
		s.remove = l.core.open.Add(s)
	}
	return ctx, s
}

// attributes builds the logfire.* attributes of a span or log followed by
// the caller's kvs.
func (l *Logfire) attributes(ctx context.Context, tmpl, spanType string, level Level, kvs []attribute.KeyValue) []attribute.KeyValue {
	msg := tmpl
	log.Contain(ctx, "format", func() {
		msg = formatMessage(tmpl, kvs, l.core.settings.Load().scrubber)
	})

	out := make([]attribute.KeyValue, 0, len(kvs)+10)
	out = append(out,
		attrs.MsgTemplate.String(tmpl),
		attrs.Msg.String(msg),
		attrs.SpanType.String(spanType),
	)
	if level != 0 {
		out = append(out, level.KeyValue())
	}
	if len(l.tags) > 0 {
		out = append(out, attrs.Tags.StringSlice(l.tags))
	}
	if l.sampleRate > 0 && l.sampleRate < 1 {
		out = append(out, attrs.SampleRate.Float64(l.sampleRate))
	}
	if f, _, ok := stack.UserFrame(0); ok {
		out = append(out, stack.InfoFromFrame(f).Attributes()...)
	}
	return append(out, kvs...)
}

// Log emits a log at level. Logs are spans that start and end at once.
func (l *Logfire) Log(ctx context.Context, level Level, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, level, msgTemplate, kvs)
}

func (l *Logfire) log(ctx context.Context, level Level, tmpl string, kvs []attribute.KeyValue) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	all := l.attributes(ctx, tmpl, attrs.TypeLog, level, kvs)
	_, span := l.core.tracer.Start(ctx, tmpl, trace.WithAttributes(all...), trace.WithTimestamp(now))
	if level >= LevelError {
		span.SetStatus(codes.Error, "")
	}
	span.End(trace.WithTimestamp(now))
}

func (l *Logfire) Trace(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelTrace, msgTemplate, kvs)
}

func (l *Logfire) Debug(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelDebug, msgTemplate, kvs)
}

func (l *Logfire) Info(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelInfo, msgTemplate, kvs)
}

func (l *Logfire) Notice(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelNotice, msgTemplate, kvs)
}

func (l *Logfire) Warn(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelWarn, msgTemplate, kvs)
}

func (l *Logfire) Error(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelError, msgTemplate, kvs)
}

// Fatal logs at fatal level. Unlike log.Fatal it does not exit.
func (l *Logfire) Fatal(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	l.log(ctx, LevelFatal, msgTemplate, kvs)
}

// Instrument runs fn inside a span. An error returned by fn is recorded
// and returned unchanged; a panic is recorded and re-raised.
func (l *Logfire) Instrument(ctx context.Context, msgTemplate string, fn func(context.Context) error, kvs ...attribute.KeyValue) (err error) {
	ctx, span := l.startSpan(ctx, msgTemplate, kvs)
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("panic: %v", r)
			}
			recordException(span.span, perr, 1, l.core.settings.Load().exceptionCallback)
			span.End()
			panic(r)
		}
		span.End()
	}()

	err = fn(ctx)
	if err != nil {
		recordException(span.span, err, 0, l.core.settings.Load().exceptionCallback)
	}
	return err
}
