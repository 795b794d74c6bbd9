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
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

// TailSamplingConfig configures trace-level tail sampling.
type TailSamplingConfig struct {
	// Level includes a trace once any of its spans has level_num >= Level.
	// Spans without a level count as info.
	Level attrs.Level `yaml:"level"`

	// Duration includes a trace once a span starts or ends more than
	// Duration after the trace's first span started.
	Duration time.Duration `yaml:"duration"`

	// RandomRate is the fraction of traces included up front without
	// buffering.
	RandomRate float64 `yaml:"random_rate"`
}

// DefaultTailSamplingConfig returns notice level and one second.
func DefaultTailSamplingConfig() TailSamplingConfig {
	return TailSamplingConfig{
		Level:    attrs.LevelNotice,
		Duration: time.Second,
	}
}

// TailSamplingProcessor holds every start and end of a trace until one span
// makes the trace interesting, then replays the whole trace to next in its
// original order. A trace whose root ends first is dropped entirely.
type TailSamplingProcessor struct {
	next   sdktrace.SpanProcessor
	cfg    TailSamplingConfig
	rand   func() float64
	onDrop func(spans int)

	mu     sync.Mutex
	traces map[trace.TraceID]*traceBuffer
}

var _ sdktrace.SpanProcessor = (*TailSamplingProcessor)(nil)

type traceBuffer struct {
	rootID     trace.SpanID
	firstStart time.Time
	events     []bufferedEvent
	started    int
}

// bufferedEvent is either a start (started != nil) or an end.
type bufferedEvent struct {
	ctx     context.Context
	started sdktrace.ReadWriteSpan
	ended   sdktrace.ReadOnlySpan
}

// NewTailSamplingProcessor wraps next. onDrop, if set, is told how many
// spans each dropped trace held.
func NewTailSamplingProcessor(next sdktrace.SpanProcessor, cfg TailSamplingConfig, onDrop func(spans int)) *TailSamplingProcessor {
	return &TailSamplingProcessor{
		next:   next,
		cfg:    cfg,
		rand:   rand.Float64,
		onDrop: onDrop,
		traces: make(map[trace.TraceID]*traceBuffer),
	}
}

// OnStart implements sdktrace.SpanProcessor.
func (p *TailSamplingProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	sc := s.SpanContext()
	parent := s.Parent()

	p.mu.Lock()
	buf, ok := p.traces[sc.TraceID()]
	if !ok && (!parent.IsValid() || parent.IsRemote()) && p.rand() >= p.cfg.RandomRate {
		buf = &traceBuffer{rootID: sc.SpanID(), firstStart: s.StartTime()}
		p.traces[sc.TraceID()] = buf
	}
	if buf == nil {
		p.mu.Unlock()
		p.next.OnStart(ctx, s)
		return
	}
	buf.events = append(buf.events, bufferedEvent{ctx: ctx, started: s})
	buf.started++
	flush := p.check(buf, s.StartTime(), s.Attributes())
	if flush {
		delete(p.traces, sc.TraceID())
	}
	p.mu.Unlock()

	if flush {
		p.replay(buf)
	}
}

// OnEnd implements sdktrace.SpanProcessor.
func (p *TailSamplingProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()

	p.mu.Lock()
	buf, ok := p.traces[sc.TraceID()]
	if !ok {
		p.mu.Unlock()
		p.next.OnEnd(s)
		return
	}
	buf.events = append(buf.events, bufferedEvent{ended: s})
	flush := p.check(buf, s.EndTime(), s.Attributes())
	drop := !flush && sc.SpanID() == buf.rootID
	if flush || drop {
		delete(p.traces, sc.TraceID())
	}
	p.mu.Unlock()

	switch {
	case flush:
		p.replay(buf)
	case drop && p.onDrop != nil:
		p.onDrop(buf.started)
	}
}

func (p *TailSamplingProcessor) check(buf *traceBuffer, at time.Time, kvs []attribute.KeyValue) bool {
	if at.Sub(buf.firstStart) > p.cfg.Duration {
		return true
	}
	level, ok := attrs.LevelOf(kvs)
	if !ok {
		level = attrs.LevelInfo
	}
	return level >= p.cfg.Level
}

func (p *TailSamplingProcessor) replay(buf *traceBuffer) {
	for _, ev := range buf.events {
		if ev.started != nil {
			p.next.OnStart(ev.ctx, ev.started)
		} else {
			p.next.OnEnd(ev.ended)
		}
	}
}

// Buffered reports how many traces are currently held back.
func (p *TailSamplingProcessor) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.traces)
}

// Shutdown implements sdktrace.SpanProcessor. Traces still buffered are
// dropped.
func (p *TailSamplingProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.traces = make(map[trace.TraceID]*traceBuffer)
	p.mu.Unlock()
	return p.next.Shutdown(ctx)
}

// ForceFlush implements sdktrace.SpanProcessor.
func (p *TailSamplingProcessor) ForceFlush(ctx context.Context) error {
	return p.next.ForceFlush(ctx)
}
