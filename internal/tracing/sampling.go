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
	"encoding/binary"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

// SamplingConfig configures head and tail sampling.
type SamplingConfig struct {
	// Head is the fraction of traces kept when their root span starts
	// (0.0 - 1.0). Spans can lower it further with logfire.sample_rate.
	Head float64 `yaml:"head"`

	// AlwaysSampleErrors keeps spans that start at error level or above
	// regardless of Head.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`

	// Tail enables tail sampling when set.
	Tail *TailSamplingConfig `yaml:"tail,omitempty"`
}

// NewSampler creates the head sampler. Child spans follow their parent's
// decision unless they carry their own logfire.sample_rate, which can only
// drop more.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	var s sdktrace.Sampler = &rateSampler{
		head:   cfg.Head,
		parent: sdktrace.ParentBased(&deterministicSampler{rate: cfg.Head}),
	}
	if cfg.AlwaysSampleErrors {
		s = &errorAwareSampler{baseSampler: s}
	}
	return s
}

// rateSampler applies the per-span logfire.sample_rate on top of the
// parent-based head decision. Both use the same trace id hash, so a trace
// dropped at rate r stays dropped at any rate below r.
type rateSampler struct {
	head   float64
	parent sdktrace.Sampler
}

// ShouldSample implements the Sampler interface
func (s *rateSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	res := s.parent.ShouldSample(params)
	if res.Decision == sdktrace.Drop {
		return res
	}
	rate, ok := sampleRateOf(params)
	if !ok {
		return res
	}
	if traceIDFraction(params.TraceID) >= s.head*rate {
		res.Decision = sdktrace.Drop
	}
	return res
}

// Description returns a description of the sampler
func (s *rateSampler) Description() string {
	return "LogfireSampler{head=" + formatFloat(s.head) + "}"
}

func sampleRateOf(params sdktrace.SamplingParameters) (float64, bool) {
	for _, kv := range params.Attributes {
		if kv.Key != attrs.SampleRate || kv.Value.Type() != attribute.FLOAT64 {
			continue
		}
		rate := kv.Value.AsFloat64()
		if rate >= 0 && rate < 1 {
			return rate, true
		}
	}
	return 0, false
}

// errorAwareSampler wraps a base sampler to always sample error spans
type errorAwareSampler struct {
	baseSampler sdktrace.Sampler
}

// ShouldSample implements the Sampler interface
func (s *errorAwareSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if level, ok := attrs.LevelOf(params.Attributes); ok && level >= attrs.LevelError {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
		}
	}
	return s.baseSampler.ShouldSample(params)
}

// Description returns a description of the sampler
func (s *errorAwareSampler) Description() string {
	return "ErrorAwareSampler{base=" + s.baseSampler.Description() + "}"
}

// deterministicSampler makes the same decision for the same trace id in
// every process, so services sharing a trace agree on it.
type deterministicSampler struct {
	rate float64
}

// ShouldSample implements the Sampler interface
func (s *deterministicSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	decision := sdktrace.Drop
	if s.rate >= 1 || traceIDFraction(params.TraceID) < s.rate {
		decision = sdktrace.RecordAndSample
	}
	return sdktrace.SamplingResult{
		Decision:   decision,
		Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
	}
}

// Description returns a description of the sampler
func (s *deterministicSampler) Description() string {
	return "DeterministicSampler{rate=" + formatFloat(s.rate) + "}"
}

// traceIDFraction maps the random low 8 bytes of id onto [0, 1).
func traceIDFraction(id trace.TraceID) float64 {
	return float64(binary.BigEndian.Uint64(id[8:])>>11) / (1 << 53)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
