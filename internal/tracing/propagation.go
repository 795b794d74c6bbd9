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
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

// W3CPropagator returns a TextMapPropagator that implements W3C Trace Context
// and Baggage.
func W3CPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// GetContext serializes the span context and baggage of ctx into a plain
// map, e.g. to hand work to another process or queue.
func GetContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	W3CPropagator().Inject(ctx, carrier)
	return carrier
}

// AttachContext returns ctx carrying the remote span context in carrier.
// Spans started from the result become children of the remote span.
func AttachContext(ctx context.Context, carrier map[string]string) context.Context {
	return W3CPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}

// InjectHTTPHeaders injects the trace context into HTTP request headers.
func InjectHTTPHeaders(ctx context.Context, req *http.Request) {
	W3CPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// ExtractHTTPHeaders returns ctx carrying the trace context found in the
// request headers.
func ExtractHTTPHeaders(ctx context.Context, req *http.Request) context.Context {
	return W3CPropagator().Extract(ctx, propagation.HeaderCarrier(req.Header))
}
