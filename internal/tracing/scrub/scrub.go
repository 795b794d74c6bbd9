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

// Package scrub redacts values that look like secrets from span data.
//
// Values are matched against one case-insensitive alternation of the
// built-in patterns plus any extra ones. A string that matches the pattern
// as a whole is treated as a label and kept. Otherwise any match redacts
// the whole string. A key that matches redacts the whole value under it.
// JSON carried inside strings is decoded and scrubbed recursively.
package scrub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/log"
)

// DefaultPatterns are always part of the pattern.
var DefaultPatterns = []string{
	`password`,
	`passwd`,
	`mysql_pwd`,
	`secret`,
	`auth(?!ors?\b)`,
	`credential`,
	`private[._ -]?key`,
	`api[._ -]?key`,
	`session`,
	`cookie`,
	`social[._ -]?security`,
	`credit[._ -]?card`,
	`(?:\b|_)csrf(?:\b|_)`,
	`(?:\b|_)xsrf(?:\b|_)`,
	`(?:\b|_)jwt(?:\b|_)`,
	`(?:\b|_)ssn(?:\b|_)`,
}

// SafeKeys are structural attributes that are never scrubbed.
var SafeKeys = keySet(
	attrs.SpanType,
	attrs.PendingParentID,
	attrs.MsgTemplate,
	attrs.Msg,
	attrs.LevelNum,
	attrs.Tags,
	attrs.SampleRate,
	attrs.Scrubbed,
	attrs.JSONSchema,
	attrs.ExceptionFingerprint,
	semconv.CodeFilepathKey,
	semconv.CodeLineNumberKey,
	semconv.CodeFunctionKey,
	semconv.CodeNamespaceKey,
	semconv.ExceptionTypeKey,
	semconv.ExceptionEscapedKey,
	"http.method",
	"http.request.method",
	"http.status_code",
	"http.response.status_code",
	"http.route",
	"url.path",
)

func keySet(keys ...attribute.Key) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[string(k)] = true
	}
	return m
}

// DefaultSafeScopes are instrumentation scopes whose spans are trusted and
// skipped entirely.
var DefaultSafeScopes = []string{"logfire.openai", "logfire.anthropic"}

const matchTimeout = 100 * time.Millisecond

// Match is passed to a Callback for every value about to be redacted.
type Match struct {
	// Path locates the value: attribute key, then map keys and slice
	// indexes for structured values.
	Path  []any
	Value any
	// Matched is the substring that triggered redaction.
	Matched string
}

// Callback may return a replacement for a match. Returning ok=false keeps
// the default placeholder.
type Callback func(Match) (replacement any, ok bool)

// Options configure a Scrubber.
type Options struct {
	ExtraPatterns []string
	Callback      Callback
	// SafeScopes replaces DefaultSafeScopes when non-nil.
	SafeScopes []string
}

// Scrubber redacts span data. It is safe for concurrent use.
type Scrubber struct {
	pattern    *regexp2.Regexp
	whole      *regexp2.Regexp
	callback   Callback
	safeScopes map[string]bool
}

// New compiles the scrubbing pattern.
func New(opts Options) (*Scrubber, error) {
	alternation := strings.Join(append(append([]string{}, DefaultPatterns...), opts.ExtraPatterns...), "|")
	pattern, err := regexp2.Compile(alternation, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("compiling scrubbing patterns: %w", err)
	}
	whole, err := regexp2.Compile(`^(?:`+alternation+`)$`, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("compiling scrubbing patterns: %w", err)
	}
	pattern.MatchTimeout = matchTimeout
	whole.MatchTimeout = matchTimeout

	scopes := opts.SafeScopes
	if scopes == nil {
		scopes = DefaultSafeScopes
	}
	safe := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		safe[s] = true
	}
	return &Scrubber{pattern: pattern, whole: whole, callback: opts.Callback, safeScopes: safe}, nil
}

// Result holds scrubbed copies of a span's data.
type Result struct {
	Attributes []attribute.KeyValue
	Events     []sdktrace.Event
	Links      []sdktrace.Link

	// Matches lists the values replaced by the default placeholder. Values
	// the callback replaced are not listed.
	Matches []Match

	redactions int
}

// Changed reports whether anything was redacted.
func (r *Result) Changed() bool {
	return r != nil && r.redactions > 0
}

// Span scrubs the attributes, events and links of span. It returns nil when
// nothing changed, the scope is trusted, or scrubbing failed internally; in
// the last case the span keeps its original data.
func (s *Scrubber) Span(span sdktrace.ReadOnlySpan) (res *Result) {
	if s == nil || s.safeScopes[span.InstrumentationScope().Name] {
		return nil
	}
	ok := log.Contain(context.Background(), "scrub", func() {
		res = s.span(span)
	})
	if !ok || !res.Changed() {
		return nil
	}
	return res
}

func (s *Scrubber) span(span sdktrace.ReadOnlySpan) *Result {
	w := &walker{s: s}
	res := &Result{}

	res.Attributes = w.attributes(span.Attributes(), nil)

	events := span.Events()
	res.Events = make([]sdktrace.Event, len(events))
	for i, ev := range events {
		ev.Attributes = w.eventAttributes(ev, []any{"events", i})
		res.Events[i] = ev
	}

	links := span.Links()
	res.Links = make([]sdktrace.Link, len(links))
	for i, link := range links {
		link.Attributes = w.attributes(link.Attributes, []any{"links", i})
		res.Links[i] = link
	}

	res.Matches = w.matches
	res.redactions = w.redactions
	if len(res.Matches) > 0 {
		res.Attributes = attrs.Replace(res.Attributes, attrs.Scrubbed.String(summary(res.Matches)))
	}
	return res
}

// Value scrubs a single value under key. It is used when formatting
// messages so that secrets never reach the rendered text.
func (s *Scrubber) Value(key string, value any) any {
	if s == nil {
		return value
	}
	out := value
	log.Contain(context.Background(), "scrub", func() {
		w := &walker{s: s}
		out = w.keyed(key, value, []any{key})
	})
	return out
}

type walker struct {
	s          *Scrubber
	matches    []Match
	redactions int
}

func (w *walker) attributes(kvs []attribute.KeyValue, prefix []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = w.attribute(kv, prefix)
	}
	return out
}

func (w *walker) attribute(kv attribute.KeyValue, prefix []any) attribute.KeyValue {
	key := string(kv.Key)
	path := appendPath(prefix, key)
	if SafeKeys[key] {
		return kv
	}
	if m := w.s.find(key); m != "" {
		return toKeyValue(kv.Key, w.redact(path, kv.Value.AsInterface(), m))
	}
	switch kv.Value.Type() {
	case attribute.STRING:
		return toKeyValue(kv.Key, w.str(path, kv.Value.AsString()))
	case attribute.STRINGSLICE:
		vals := kv.Value.AsStringSlice()
		changed := false
		out := make([]string, len(vals))
		for i, v := range vals {
			r := w.str(appendPath(path, i), v)
			if rs, ok := r.(string); ok {
				out[i] = rs
			} else {
				out[i] = fmt.Sprint(r)
			}
			changed = changed || out[i] != v
		}
		if changed {
			return kv.Key.StringSlice(out)
		}
	}
	return kv
}

// eventAttributes treats exception stack traces as safe text, except that a
// scrubbed exception message is spliced into the trace in place of the
// original.
func (w *walker) eventAttributes(ev sdktrace.Event, prefix []any) []attribute.KeyValue {
	if ev.Name != semconv.ExceptionEventName {
		return w.attributes(ev.Attributes, prefix)
	}

	var origMsg, newMsg string
	out := make([]attribute.KeyValue, len(ev.Attributes))
	stackIdx := -1
	for i, kv := range ev.Attributes {
		switch kv.Key {
		case semconv.ExceptionStacktraceKey:
			stackIdx = i
			out[i] = kv
		case semconv.ExceptionMessageKey:
			origMsg = kv.Value.AsString()
			out[i] = w.attribute(kv, prefix)
			newMsg = out[i].Value.Emit()
		default:
			out[i] = w.attribute(kv, prefix)
		}
	}
	if stackIdx < 0 || origMsg == newMsg {
		return out
	}

	stack := ev.Attributes[stackIdx].Value.AsString()
	trimmed := strings.TrimRight(stack, "\n")
	if origMsg != "" && strings.HasSuffix(trimmed, origMsg) {
		spliced := trimmed[:len(trimmed)-len(origMsg)] + newMsg + stack[len(trimmed):]
		out[stackIdx] = semconv.ExceptionStacktraceKey.String(spliced)
		return out
	}
	out[stackIdx] = toKeyValue(semconv.ExceptionStacktraceKey,
		w.str(appendPath(prefix, string(semconv.ExceptionStacktraceKey)), stack))
	return out
}

// keyed scrubs value found under key inside a structured value.
func (w *walker) keyed(key string, value any, path []any) any {
	if SafeKeys[key] {
		return value
	}
	if m := w.s.find(key); m != "" {
		return w.redact(path, value, m)
	}
	return w.value(path, value)
}

func (w *walker) value(path []any, value any) any {
	switch v := value.(type) {
	case string:
		return w.str(path, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = w.keyed(k, inner, appendPath(path, k))
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = w.value(appendPath(path, i), inner)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = w.str(appendPath(path, i), inner)
		}
		return out
	default:
		return value
	}
}

func (w *walker) str(path []any, v string) any {
	if decoded, ok := decodeJSON(v); ok {
		before := w.redactions
		scrubbed := w.value(path, decoded)
		if w.redactions == before {
			return v
		}
		encoded, err := json.Marshal(scrubbed)
		if err != nil {
			return v
		}
		return string(encoded)
	}
	if w.s.isWhole(v) {
		return v
	}
	if m := w.s.find(v); m != "" {
		return w.redact(path, v, m)
	}
	return v
}

func (w *walker) redact(path []any, value any, matched string) any {
	match := Match{Path: path, Value: value, Matched: matched}
	w.redactions++
	if w.s.callback != nil {
		if repl, ok := w.s.callback(match); ok {
			return repl
		}
	}
	w.matches = append(w.matches, match)
	return Placeholder(matched)
}

// Placeholder is the default replacement for a redacted value.
func Placeholder(matched string) string {
	return fmt.Sprintf("[Scrubbed due to '%s']", matched)
}

func (s *Scrubber) find(v string) string {
	if v == "" {
		return ""
	}
	m, err := s.pattern.FindStringMatch(v)
	if err != nil || m == nil {
		return ""
	}
	return m.String()
}

func (s *Scrubber) isWhole(v string) bool {
	ok, err := s.whole.MatchString(v)
	return err == nil && ok
}

func decodeJSON(v string) (any, bool) {
	t := strings.TrimSpace(v)
	if len(t) < 2 || !((t[0] == '{' && t[len(t)-1] == '}') || (t[0] == '[' && t[len(t)-1] == ']')) {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(t))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return nil, false
	}
	return out, true
}

func toKeyValue(key attribute.Key, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return key.String(x)
	case bool:
		return key.Bool(x)
	case int:
		return key.Int(x)
	case int64:
		return key.Int64(x)
	case float64:
		return key.Float64(x)
	case []string:
		return key.StringSlice(x)
	case attribute.Value:
		return attribute.KeyValue{Key: key, Value: x}
	default:
		if b, err := json.Marshal(x); err == nil {
			return key.String(string(b))
		}
		return key.String(fmt.Sprint(x))
	}
}

func appendPath(prefix []any, elem any) []any {
	out := make([]any, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, elem)
}

type summaryEntry struct {
	Path             []any  `json:"path"`
	MatchedSubstring string `json:"matched_substring"`
}

// summary renders the logfire.scrubbed attribute: which paths were
// redacted and why, without the redacted values.
func summary(matches []Match) string {
	entries := make([]summaryEntry, len(matches))
	for i, m := range matches {
		entries[i] = summaryEntry{Path: m.Path, MatchedSubstring: m.Matched}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
