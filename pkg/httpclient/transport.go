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

package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/internal/tracing/suppress"
)

// loggingTransport sets default headers and logs each request at debug
// level. Requests run with instrumentation suppressed so that exporting
// never produces telemetry about itself.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	headers   map[string]string
}

func newLoggingTransport(base http.RoundTripper, userAgent string, headers map[string]string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent, headers: headers}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	req = req.WithContext(suppress.Instrumentation(req.Context()))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	logger := log.Default()
	if err != nil {
		logger.DebugContext(req.Context(), "http request failed",
			slog.String("method", req.Method),
			slog.String(log.EndpointKey, sanitizeURL(req.URL)),
			log.Duration(log.DurationKey, elapsed),
			log.Error(err),
		)
		return resp, err
	}
	logger.DebugContext(req.Context(), "http request",
		slog.String("method", req.Method),
		slog.String(log.EndpointKey, sanitizeURL(req.URL)),
		slog.Int("status", resp.StatusCode),
		log.Duration(log.DurationKey, elapsed),
	)
	return resp, nil
}
