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

// Package attrs defines the logfire.* span attribute contract shared by the
// API, the processors and the exporters.
package attrs

import (
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Prefix namespaces every reserved attribute.
const Prefix = "logfire."

// Reserved attribute keys.
const (
	SpanType             = attribute.Key(Prefix + "span_type")
	PendingParentID      = attribute.Key(Prefix + "pending_parent_id")
	MsgTemplate          = attribute.Key(Prefix + "msg_template")
	Msg                  = attribute.Key(Prefix + "msg")
	LevelNum             = attribute.Key(Prefix + "level_num")
	Tags                 = attribute.Key(Prefix + "tags")
	SampleRate           = attribute.Key(Prefix + "sample_rate")
	Scrubbed             = attribute.Key(Prefix + "scrubbed")
	JSONSchema           = attribute.Key(Prefix + "json_schema")
	ExceptionFingerprint = attribute.Key(Prefix + "exception.fingerprint")
)

// Span types carried by SpanType. Absence means TypeSpan.
const (
	TypeSpan        = "span"
	TypePendingSpan = "pending_span"
	TypeLog         = "log"
	TypeAnnotation  = "annotation"
)

// Level is a severity expressed as an OpenTelemetry severity number.
type Level int

const (
	LevelTrace  Level = 1
	LevelDebug  Level = 5
	LevelInfo   Level = 9
	LevelNotice Level = 10
	LevelWarn   Level = 13
	LevelError  Level = 17
	LevelFatal  Level = 21
)

var levelNames = map[Level]string{
	LevelTrace:  "trace",
	LevelDebug:  "debug",
	LevelInfo:   "info",
	LevelNotice: "notice",
	LevelWarn:   "warn",
	LevelError:  "error",
	LevelFatal:  "fatal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level" + strconv.Itoa(int(l))
}

// ParseLevel resolves a level name. "warning" is accepted for warn.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn, true
	}
	for l, name := range levelNames {
		if name == s {
			return l, true
		}
	}
	return 0, false
}

// UnmarshalText accepts a level name or number, so levels can be written
// either way in config files.
func (l *Level) UnmarshalText(text []byte) error {
	if lvl, ok := ParseLevel(string(text)); ok {
		*l = lvl
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("unknown level %q", text)
	}
	*l = Level(n)
	return nil
}

// KeyValue returns the level_num attribute for l.
func (l Level) KeyValue() attribute.KeyValue {
	return LevelNum.Int(int(l))
}

// LevelOf returns the level_num attribute, if present.
func LevelOf(kvs []attribute.KeyValue) (Level, bool) {
	for _, kv := range kvs {
		if kv.Key == LevelNum && kv.Value.Type() == attribute.INT64 {
			return Level(kv.Value.AsInt64()), true
		}
	}
	return 0, false
}

// SpanTypeOf returns the span_type attribute, defaulting to TypeSpan.
func SpanTypeOf(kvs []attribute.KeyValue) string {
	for _, kv := range kvs {
		if kv.Key == SpanType {
			return kv.Value.AsString()
		}
	}
	return TypeSpan
}

// FormatSpanID renders id as zero-padded lowercase hex, the width of a
// 64-bit span id.
func FormatSpanID(id trace.SpanID) string {
	return id.String()
}

// ParseSpanID decodes an id written by FormatSpanID.
func ParseSpanID(s string) (trace.SpanID, error) {
	return trace.SpanIDFromHex(s)
}

// Replace returns kvs with every attribute whose key appears in repl
// replaced by repl's value, and any keys of repl not present appended.
// kvs is not modified.
func Replace(kvs []attribute.KeyValue, repl ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kvs)+len(repl))
	used := make([]bool, len(repl))
	for _, kv := range kvs {
		replaced := false
		for i, r := range repl {
			if kv.Key == r.Key {
				out = append(out, r)
				used[i] = true
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, kv)
		}
	}
	for i, r := range repl {
		if !used[i] {
			out = append(out, r)
		}
	}
	return out
}
