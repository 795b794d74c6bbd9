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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

func newTailSampled(t *testing.T, cfg TailSamplingConfig) (*TailSamplingProcessor, *eventRecorder, trace.Tracer, *int) {
	t.Helper()
	rec := &eventRecorder{}
	dropped := new(int)
	tail := NewTailSamplingProcessor(rec, cfg, func(spans int) { *dropped += spans })
	tp := newProvider(tail)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return tail, rec, tp.Tracer("test"), dropped
}

func levelOpt(l attrs.Level) trace.SpanStartOption {
	return trace.WithAttributes(l.KeyValue())
}

func TestTailSampling_DropsUninterestingTrace(t *testing.T) {
	tail, rec, tracer, dropped := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour})

	ctx, root := tracer.Start(context.Background(), "root")
	_, a := tracer.Start(ctx, "a", levelOpt(attrs.LevelWarn))
	a.End()
	_, b := tracer.Start(ctx, "b")
	b.End()
	assert.Equal(t, 1, tail.Buffered())
	root.End()

	assert.Empty(t, rec.Events())
	assert.Zero(t, tail.Buffered())
	assert.Equal(t, 3, *dropped)
}

func TestTailSampling_LevelTriggersWholeTrace(t *testing.T) {
	_, rec, tracer, dropped := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour})

	ctx, root := tracer.Start(context.Background(), "root", levelOpt(attrs.LevelInfo))
	_, a := tracer.Start(ctx, "a", levelOpt(attrs.LevelInfo))
	a.End()
	assert.Empty(t, rec.Events())

	_, b := tracer.Start(ctx, "b", levelOpt(attrs.LevelError))
	assert.Equal(t, []string{"start:root", "start:a", "end:a", "start:b"}, rec.Events())

	// After the trigger spans pass straight through.
	_, c := tracer.Start(ctx, "c")
	c.End()
	b.End()
	root.End()

	assert.Equal(t, []string{
		"start:root", "start:a", "end:a", "start:b",
		"start:c", "end:c", "end:b", "end:root",
	}, rec.Events())
	assert.Zero(t, *dropped)
}

func TestTailSampling_TriggerOnEnd(t *testing.T) {
	_, rec, tracer, _ := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour})

	ctx, root := tracer.Start(context.Background(), "root")
	_, a := tracer.Start(ctx, "a")
	a.SetAttributes(attrs.LevelError.KeyValue())
	a.End()
	root.End()

	assert.Equal(t, []string{"start:root", "start:a", "end:a", "end:root"}, rec.Events())
}

func TestTailSampling_DurationTrigger(t *testing.T) {
	_, rec, tracer, _ := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelFatal, Duration: time.Second})

	start := time.Now()
	ctx, root := tracer.Start(context.Background(), "root", trace.WithTimestamp(start))
	_, a := tracer.Start(ctx, "a", trace.WithTimestamp(start.Add(100*time.Millisecond)))
	a.End(trace.WithTimestamp(start.Add(2 * time.Second)))
	root.End(trace.WithTimestamp(start.Add(3 * time.Second)))

	assert.Equal(t, []string{"start:root", "start:a", "end:a", "end:root"}, rec.Events())
}

func TestTailSampling_RandomRateBypassesBuffer(t *testing.T) {
	tail, rec, tracer, _ := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelFatal, Duration: time.Hour, RandomRate: 1})

	ctx, root := tracer.Start(context.Background(), "root")
	assert.Equal(t, []string{"start:root"}, rec.Events())
	_, a := tracer.Start(ctx, "a")
	a.End()
	root.End()

	assert.Zero(t, tail.Buffered())
	assert.Len(t, rec.Events(), 4)
}

func TestTailSampling_IndependentTraces(t *testing.T) {
	_, rec, tracer, dropped := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour})

	ctx1, quiet := tracer.Start(context.Background(), "quiet")
	ctx2, loud := tracer.Start(context.Background(), "loud")
	_, e := tracer.Start(ctx2, "boom", levelOpt(attrs.LevelError))
	_, q := tracer.Start(ctx1, "q")
	q.End()
	e.End()
	quiet.End()
	loud.End()

	assert.Equal(t, []string{"start:loud", "start:boom", "end:boom", "end:loud"}, rec.Events())
	assert.Equal(t, 2, *dropped)
}

func TestTailSampling_ShutdownDropsBuffers(t *testing.T) {
	tail, rec, tracer, _ := newTailSampled(t, TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour})

	tracer.Start(context.Background(), "open")
	require.Equal(t, 1, tail.Buffered())
	require.NoError(t, tail.Shutdown(context.Background()))

	assert.Zero(t, tail.Buffered())
	assert.Empty(t, rec.Events())
}

func TestDefaultTailSamplingConfig(t *testing.T) {
	cfg := DefaultTailSamplingConfig()
	assert.Equal(t, attrs.LevelNotice, cfg.Level)
	assert.Equal(t, time.Second, cfg.Duration)
	assert.Zero(t, cfg.RandomRate)
}
