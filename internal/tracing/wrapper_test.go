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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/tracing/scrub"
)

func TestMainSpanProcessorWrapper_ScrubsOnEnd(t *testing.T) {
	scrubber, err := scrub.New(scrub.Options{})
	require.NoError(t, err)

	rec := &eventRecorder{}
	tp := newProvider(NewMainSpanProcessorWrapper(rec, scrubber))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "login", trace.WithAttributes(
		attribute.String("password", "hunter2"),
		attribute.String("user", "alice"),
	))
	span.AddEvent("retry", trace.WithAttributes(attribute.String("detail", "my api_key is abc")))
	span.End()

	require.Equal(t, []string{"start:login", "end:login"}, rec.Events())
	ended := rec.Ended()[0]

	pw, _ := attrValue(ended.Attributes(), "password")
	assert.Equal(t, scrub.Placeholder("password"), pw.AsString())
	user, _ := attrValue(ended.Attributes(), "user")
	assert.Equal(t, "alice", user.AsString())
	_, summarised := attrValue(ended.Attributes(), attrs.Scrubbed)
	assert.True(t, summarised)

	require.Len(t, ended.Events(), 1)
	detail, _ := attrValue(ended.Events()[0].Attributes, "detail")
	assert.Equal(t, scrub.Placeholder("api_key"), detail.AsString())

	assert.Equal(t, "login", ended.Name())
	assert.Equal(t, span.SpanContext(), ended.SpanContext())
}

func TestMainSpanProcessorWrapper_PassesCleanSpansThrough(t *testing.T) {
	scrubber, err := scrub.New(scrub.Options{})
	require.NoError(t, err)

	rec := &eventRecorder{}
	tp := newProvider(NewMainSpanProcessorWrapper(rec, scrubber))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "clean",
		trace.WithAttributes(attribute.Int("count", 3)))
	span.End()

	ended := rec.Ended()[0]
	_, isFrozen := ended.(*frozenSpan)
	assert.False(t, isFrozen)
	assert.Equal(t, []attribute.KeyValue{attribute.Int("count", 3)}, ended.Attributes())
}

func TestMainSpanProcessorWrapper_NilScrubber(t *testing.T) {
	rec := &eventRecorder{}
	tp := newProvider(NewMainSpanProcessorWrapper(rec, nil))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "raw",
		trace.WithAttributes(attribute.String("password", "hunter2")))
	span.End()

	pw, _ := attrValue(rec.Ended()[0].Attributes(), "password")
	assert.Equal(t, "hunter2", pw.AsString())
}
