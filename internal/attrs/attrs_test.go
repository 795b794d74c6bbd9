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

package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"INFO", LevelInfo, true},
		{"notice", LevelNotice, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"fatal", LevelFatal, true},
		{"loud", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "level42", Level(42).String())
}

func TestLevelOfAndSpanTypeOf(t *testing.T) {
	kvs := []attribute.KeyValue{SpanType.String(TypeLog), LevelError.KeyValue()}

	lvl, ok := LevelOf(kvs)
	require.True(t, ok)
	assert.Equal(t, LevelError, lvl)
	assert.Equal(t, TypeLog, SpanTypeOf(kvs))

	_, ok = LevelOf(nil)
	assert.False(t, ok)
	assert.Equal(t, TypeSpan, SpanTypeOf(nil))
}

func TestSpanIDRoundTrip(t *testing.T) {
	id := trace.SpanID{0, 0, 0, 0, 0, 0, 0x0a, 0xbc}

	s := FormatSpanID(id)
	assert.Equal(t, "0000000000000abc", s)

	back, err := ParseSpanID(s)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestReplace(t *testing.T) {
	orig := []attribute.KeyValue{SpanType.String(TypeSpan), attribute.String("k", "v")}

	got := Replace(orig, SpanType.String(TypePendingSpan), PendingParentID.String("00"))

	assert.Equal(t, []attribute.KeyValue{
		SpanType.String(TypePendingSpan),
		attribute.String("k", "v"),
		PendingParentID.String("00"),
	}, got)
	assert.Equal(t, TypeSpan, orig[0].Value.AsString())
}

func TestLevelUnmarshalText(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("error")))
	assert.Equal(t, LevelError, l)
	require.NoError(t, l.UnmarshalText([]byte("13")))
	assert.Equal(t, LevelWarn, l)
	assert.Error(t, l.UnmarshalText([]byte("loud")))
}
