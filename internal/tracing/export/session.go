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

package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/pkg/errors"
	"github.com/tombee/logfire-go/pkg/httpclient"
)

// DefaultMaxBodySize is the largest request body the backend accepts.
const DefaultMaxBodySize = 5 * 1024 * 1024

// SessionConfig configures a SessionClient.
type SessionConfig struct {
	// Endpoint is the full traces URL, e.g. https://host/v1/traces.
	Endpoint string

	// Headers are sent with every request, typically Authorization.
	Headers map[string]string

	// MaxBodySize rejects larger encoded requests with
	// *errors.BodyTooLargeError before anything is sent.
	MaxBodySize int

	// Gzip compresses request bodies.
	Gzip bool

	// Timeout bounds a single request.
	Timeout time.Duration

	// Retry, when set, receives request bodies that failed with a
	// retryable error.
	Retry DiskRetryerConfig
}

// SessionClient is an otlptrace.Client that posts protobuf export requests
// over HTTP. Bodies that fail to send are handed to a DiskRetryer, and the
// error is still returned so the caller can fall back.
type SessionClient struct {
	cfg     SessionConfig
	http    *http.Client
	retryer *DiskRetryer
}

var _ otlptrace.Client = (*SessionClient)(nil)

// NewSessionClient builds the client and its retryer. When cfg.Retry.Dir is
// empty failed requests are not retried.
func NewSessionClient(cfg SessionConfig) (*SessionClient, error) {
	if cfg.Endpoint == "" {
		return nil, &errors.ConfigError{Key: "endpoint", Reason: "export endpoint is required"}
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	hcfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hcfg.Timeout = cfg.Timeout
	}
	hcfg.Headers = cfg.Headers
	client, err := httpclient.New(hcfg)
	if err != nil {
		return nil, err
	}

	c := &SessionClient{cfg: cfg, http: client}
	if cfg.Retry.Dir != "" {
		c.retryer = NewDiskRetryer(cfg.Retry, c.post)
	}
	return c, nil
}

// Retryer returns the client's retryer, or nil.
func (c *SessionClient) Retryer() *DiskRetryer { return c.retryer }

// Start implements otlptrace.Client.
func (c *SessionClient) Start(context.Context) error { return nil }

// Stop implements otlptrace.Client. Queued retries stay on disk.
func (c *SessionClient) Stop(ctx context.Context) error {
	c.http.CloseIdleConnections()
	if c.retryer != nil {
		return c.retryer.Close(ctx)
	}
	return nil
}

// UploadTraces implements otlptrace.Client.
func (c *SessionClient) UploadTraces(ctx context.Context, spans []*tracepb.ResourceSpans) error {
	body, err := proto.Marshal(&coltracepb.ExportTraceServiceRequest{ResourceSpans: spans})
	if err != nil {
		return errors.Wrap(err, "encoding export request")
	}
	if len(body) > c.cfg.MaxBodySize {
		return &errors.BodyTooLargeError{Size: len(body), Max: c.cfg.MaxBodySize}
	}

	err = c.post(ctx, body)
	if err != nil && c.retryer != nil && errors.IsRetryable(err) {
		c.retryer.Add(body)
	}
	return err
}

func (c *SessionClient) post(ctx context.Context, body []byte) error {
	payload := body
	if c.cfg.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return errors.Wrap(err, "compressing export request")
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "compressing export request")
		}
		payload = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building export request")
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	if c.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.ExportError{
			Endpoint:  c.cfg.Endpoint,
			Retryable: httpclient.IsRetryableError(err),
			Cause:     err,
		}
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	log.Default().DebugContext(ctx, "export rejected",
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(msg)))
	return &errors.ExportError{
		Endpoint:   c.cfg.Endpoint,
		StatusCode: resp.StatusCode,
		Retryable:  httpclient.ShouldRetryStatus(resp.StatusCode),
		Cause:      errors.New(http.StatusText(resp.StatusCode)),
	}
}
