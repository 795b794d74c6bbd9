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

package scrub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tombee/logfire-go/internal/attrs"
)

func newScrubber(t *testing.T, opts Options) *Scrubber {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func spanWith(kvs ...attribute.KeyValue) sdktrace.ReadOnlySpan {
	return tracetest.SpanStub{
		Name:                 "op",
		Attributes:           kvs,
		InstrumentationScope: instrumentation.Scope{Name: "app"},
	}.Snapshot()
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestSpan_RedactsValues(t *testing.T) {
	s := newScrubber(t, Options{})

	res := s.Span(spanWith(
		attribute.String("note", "my password is hunter2"),
		attribute.String("label", "password"),
		attribute.String("city", "London"),
	))
	require.NotNil(t, res)

	got := attrMap(res.Attributes)
	assert.Equal(t, "[Scrubbed due to 'password']", got["note"].AsString())
	assert.Equal(t, "password", got["label"].AsString(), "a value that is exactly a pattern is a label")
	assert.Equal(t, "London", got["city"].AsString())
	require.Len(t, res.Matches, 1)
	assert.Equal(t, []any{"note"}, res.Matches[0].Path)
}

func TestSpan_RedactsByKey(t *testing.T) {
	s := newScrubber(t, Options{})

	res := s.Span(spanWith(
		attribute.String("api_key", "abc123"),
		attribute.Int("session_count", 3),
	))
	require.NotNil(t, res)

	got := attrMap(res.Attributes)
	assert.Equal(t, "[Scrubbed due to 'api_key']", got["api_key"].AsString())
	assert.Equal(t, "[Scrubbed due to 'session']", got["session_count"].AsString())
}

func TestSpan_AuthorsNotScrubbed(t *testing.T) {
	s := newScrubber(t, Options{})

	assert.Nil(t, s.Span(spanWith(attribute.String("authors", "Ann and Bob"))))

	res := s.Span(spanWith(attribute.String("header", "Authorization: Bearer x")))
	require.NotNil(t, res)
}

func TestSpan_NothingToScrub(t *testing.T) {
	s := newScrubber(t, Options{})

	assert.Nil(t, s.Span(spanWith(attribute.String("user", "ann"), attribute.Int("n", 1))))
}

func TestSpan_JSONInString(t *testing.T) {
	s := newScrubber(t, Options{})

	res := s.Span(spanWith(attribute.String("body", `{"user":"ann","password":"abc","n":12345678901234567890}`)))
	require.NotNil(t, res)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(attrMap(res.Attributes)["body"].AsString()), &decoded))
	assert.Equal(t, "ann", decoded["user"])
	assert.Equal(t, "[Scrubbed due to 'password']", decoded["password"])
	assert.Contains(t, attrMap(res.Attributes)["body"].AsString(), "12345678901234567890")
	assert.Equal(t, []any{"body", "password"}, res.Matches[0].Path)
}

func TestSpan_SafeKeysAtEveryLevel(t *testing.T) {
	s := newScrubber(t, Options{})

	res := s.Span(spanWith(
		attrs.MsgTemplate.String("login with {password}"),
		attribute.String("payload", `{"logfire.msg_template":"my secret","other":"my secret"}`),
	))
	require.NotNil(t, res)

	got := attrMap(res.Attributes)
	assert.Equal(t, "login with {password}", got[attrs.MsgTemplate].AsString())
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(got["payload"].AsString()), &decoded))
	assert.Equal(t, "my secret", decoded["logfire.msg_template"])
	assert.Equal(t, "[Scrubbed due to 'secret']", decoded["other"])
}

func TestSpan_Summary(t *testing.T) {
	s := newScrubber(t, Options{})

	res := s.Span(spanWith(attribute.String("x", "the secret sauce")))
	require.NotNil(t, res)

	summaryValue, ok := attrMap(res.Attributes)[attrs.Scrubbed]
	require.True(t, ok)
	assert.JSONEq(t, `[{"path":["x"],"matched_substring":"secret"}]`, summaryValue.AsString())
	assert.NotContains(t, summaryValue.AsString(), "sauce")
}

func TestSpan_ExceptionStacktraceSplice(t *testing.T) {
	s := newScrubber(t, Options{})
	msg := "bad password for ann"
	span := tracetest.SpanStub{
		Name: "op",
		Events: []sdktrace.Event{{
			Name: semconv.ExceptionEventName,
			Attributes: []attribute.KeyValue{
				semconv.ExceptionType("*errors.errorString"),
				semconv.ExceptionMessage(msg),
				semconv.ExceptionStacktrace("goroutine 1 [running]:\nmain.main()\n" + msg + "\n"),
			},
		}},
	}.Snapshot()

	res := s.Span(span)
	require.NotNil(t, res)
	require.Len(t, res.Events, 1)

	got := attrMap(res.Events[0].Attributes)
	placeholder := "[Scrubbed due to 'password']"
	assert.Equal(t, placeholder, got[semconv.ExceptionMessageKey].AsString())
	assert.Equal(t, "goroutine 1 [running]:\nmain.main()\n"+placeholder+"\n", got[semconv.ExceptionStacktraceKey].AsString())
	assert.Equal(t, "*errors.errorString", got[semconv.ExceptionTypeKey].AsString())
	assert.Equal(t, []any{"events", 0, string(semconv.ExceptionMessageKey)}, res.Matches[0].Path)
}

func TestSpan_ExceptionStacktraceWithoutMessageSuffix(t *testing.T) {
	s := newScrubber(t, Options{})
	span := tracetest.SpanStub{
		Name: "op",
		Events: []sdktrace.Event{{
			Name: semconv.ExceptionEventName,
			Attributes: []attribute.KeyValue{
				semconv.ExceptionMessage("bad password"),
				semconv.ExceptionStacktrace("frames mentioning the password"),
			},
		}},
	}.Snapshot()

	res := s.Span(span)
	require.NotNil(t, res)

	got := attrMap(res.Events[0].Attributes)
	assert.Equal(t, "[Scrubbed due to 'password']", got[semconv.ExceptionStacktraceKey].AsString())
}

func TestSpan_Links(t *testing.T) {
	s := newScrubber(t, Options{})
	span := tracetest.SpanStub{
		Name:  "op",
		Links: []sdktrace.Link{{Attributes: []attribute.KeyValue{attribute.String("cookie", "a=b")}}},
	}.Snapshot()

	res := s.Span(span)
	require.NotNil(t, res)
	assert.Equal(t, "[Scrubbed due to 'cookie']", res.Links[0].Attributes[0].Value.AsString())
	assert.Equal(t, []any{"links", 0, "cookie"}, res.Matches[0].Path)
}

func TestSpan_SafeScope(t *testing.T) {
	s := newScrubber(t, Options{})
	span := tracetest.SpanStub{
		Name:                 "chat",
		Attributes:           []attribute.KeyValue{attribute.String("prompt", "my password is x")},
		InstrumentationScope: instrumentation.Scope{Name: "logfire.openai"},
	}.Snapshot()

	assert.Nil(t, s.Span(span))
}

func TestSpan_ExtraPatternsAndCallback(t *testing.T) {
	var seen []Match
	s := newScrubber(t, Options{
		ExtraPatterns: []string{`my_pattern`},
		Callback: func(m Match) (any, bool) {
			seen = append(seen, m)
			if m.Path[0] == "keep" {
				return m.Value, true
			}
			return nil, false
		},
	})

	res := s.Span(spanWith(
		attribute.String("keep", "contains my_pattern here"),
		attribute.String("drop", "contains MY_PATTERN here"),
	))
	require.NotNil(t, res)

	got := attrMap(res.Attributes)
	assert.Equal(t, "contains my_pattern here", got["keep"].AsString())
	assert.Equal(t, "[Scrubbed due to 'MY_PATTERN']", got["drop"].AsString())
	assert.Len(t, seen, 2)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, []any{"drop"}, res.Matches[0].Path)
	assert.JSONEq(t, `[{"path":["drop"],"matched_substring":"MY_PATTERN"}]`, got[attrs.Scrubbed].AsString())
}

func TestSpan_CallbackReplacementIsNotSummarised(t *testing.T) {
	s := newScrubber(t, Options{
		Callback: func(Match) (any, bool) { return "<redacted>", true },
	})

	res := s.Span(spanWith(attribute.String("api_key", "abc")))
	require.NotNil(t, res)
	assert.True(t, res.Changed())
	assert.Empty(t, res.Matches)

	got := attrMap(res.Attributes)
	assert.Equal(t, "<redacted>", got["api_key"].AsString())
	_, ok := got[attrs.Scrubbed]
	assert.False(t, ok)
}

func TestSpan_CallbackPanicFailsOpen(t *testing.T) {
	s := newScrubber(t, Options{Callback: func(Match) (any, bool) { panic("boom") }})

	assert.NotPanics(t, func() {
		assert.Nil(t, s.Span(spanWith(attribute.String("x", "secret stuff"))))
	})
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Options{ExtraPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestValue(t *testing.T) {
	s := newScrubber(t, Options{})

	assert.Equal(t, "[Scrubbed due to 'password']", s.Value("password", "abc"))
	assert.Equal(t, "[Scrubbed due to 'secret']", s.Value("arg", "a secret thing"))
	assert.Equal(t, 42, s.Value("count", 42))

	var nilScrubber *Scrubber
	assert.Equal(t, "secret", nilScrubber.Value("x", "secret"))
}
