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

package backup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tombee/logfire-go/internal/commands/shared"
	"github.com/tombee/logfire-go/internal/tracing/export"
)

const second = uint64(1_000_000_000)

func request(service string, names ...string) *coltracepb.ExportTraceServiceRequest {
	var spans []*tracepb.Span
	for i, name := range names {
		start := uint64(1_700_000_000+i) * second
		spans = append(spans, &tracepb.Span{
			Name:              name,
			TraceId:           bytes.Repeat([]byte{byte(i + 1)}, 16),
			SpanId:            bytes.Repeat([]byte{byte(i + 1)}, 8),
			StartTimeUnixNano: start,
			EndTimeUnixNano:   start + second,
		})
	}
	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
				Key:   "service.name",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: service}},
			}}},
			ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
		}},
	}
}

func writeBackup(t *testing.T, path string, reqs ...*coltracepb.ExportTraceServiceRequest) {
	t.Helper()
	w := export.NewFileWriter(path)
	for _, req := range reqs {
		payload, err := proto.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, w.WriteFrame(payload))
	}
	require.NoError(t, w.Close())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "logfire"}
	_, jsonPtr, configPtr := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "")
	root.PersistentFlags().StringVar(configPtr, "config", "", "")
	t.Cleanup(func() {
		shared.SetJSONForTest(false)
		*configPtr = ""
	})
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"backup", "inspect"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.bin")
	writeBackup(t, path, request("api", "a", "b"), request("worker", "c"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	s, err := Inspect(f, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Frames)
	assert.Equal(t, 2, s.ResourceSpans)
	assert.Equal(t, 3, s.Spans)
	assert.Equal(t, []string{"api", "worker"}, s.Services)
	require.NotNil(t, s.FirstStart)
	require.NotNil(t, s.LastEnd)
	assert.Equal(t, int64(1_700_000_000), s.FirstStart.Unix())
	assert.Equal(t, int64(1_700_000_002), s.LastEnd.Unix())
	require.Len(t, s.SpanList, 3)
	assert.Equal(t, strings.Repeat("01", 16), s.SpanList[0].TraceID)
}

func TestInspectCommand_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.bin")
	writeBackup(t, path, request("api", "a"))

	out, err := execute(t, path, "--json")
	require.NoError(t, err)

	var s Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s), out)
	assert.True(t, s.Success)
	assert.Equal(t, 1, s.Spans)
	assert.Nil(t, s.PendingRetries)
	assert.Empty(t, s.SpanList)
}

func TestInspectCommand_ConfiguredDataDir(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	writeBackup(t, filepath.Join(dataDir, "logfire_spans.bin"), request("api", "a", "b"))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "retry"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "retry", "x.bin"), []byte("body"), 0o644))

	config := filepath.Join(dir, "logfire.yaml")
	require.NoError(t, os.WriteFile(config, []byte("data_dir: "+dataDir+"\n"), 0o644))

	out, err := execute(t, "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "logfire_spans.bin")
	assert.Contains(t, out, "pending retries")
	assert.Contains(t, out, "api")
}

func TestInspectCommand_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a backup\n"), 0o644))

	_, err := execute(t, path)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidBackup, shared.ExitCode(err))
}

func TestInspectCommand_MissingFile(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailed, shared.ExitCode(err))
}
