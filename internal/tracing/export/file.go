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
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tombee/logfire-go/pkg/errors"
)

// Backup file layout: a fixed header line, a version line, then frames of
// a big-endian uint32 length followed by a serialized
// ExportTraceServiceRequest.
const (
	FileHeader  = "LOGFIRE BACKUP FILE\n"
	FileVersion = "VERSION 1\n"
)

const frameHeaderSize = 4

// FileWriter appends frames to a backup file. Each length prefix and its
// payload are written under one lock so concurrent exporters never
// interleave.
type FileWriter struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileWriter returns a writer for path. The file is opened lazily on the
// first write.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Path returns the backup file location.
func (w *FileWriter) Path() string { return w.path }

// WriteFrame appends one payload.
func (w *FileWriter) WriteFrame(payload []byte) error {
	if uint64(len(payload)) > 1<<32-1 {
		return errors.Errorf("backup frame too large: %d bytes", len(payload))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		f, err := w.open()
		if err != nil {
			return err
		}
		w.f = f
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	if _, err := w.f.Write(buf); err != nil {
		return errors.Wrapf(err, "writing backup file %s", w.path)
	}
	return nil
}

// open creates the file with its header, or checks the header of an
// existing file before appending to it.
func (w *FileWriter) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating backup directory")
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening backup file %s", w.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "opening backup file %s", w.path)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(FileHeader + FileVersion); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "writing backup header to %s", w.path)
		}
		return f, nil
	}
	if err := checkHeader(io.NewSectionReader(f, 0, info.Size()), w.path); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Close closes the underlying file. Later writes reopen it.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func checkHeader(r io.Reader, path string) error {
	header := make([]byte, len(FileHeader)+len(FileVersion))
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errors.Wrapf(err, "reading backup header")
	}
	header = header[:n]
	if !bytes.HasPrefix(header, []byte(FileHeader)) {
		return &errors.BackupFileError{Path: path, Reason: "missing LOGFIRE BACKUP FILE header"}
	}
	if !bytes.Equal(header[len(FileHeader):], []byte(FileVersion)) {
		return &errors.BackupFileError{Path: path, Reason: "unsupported version"}
	}
	return nil
}

// FileParser reads frames back from a backup file.
type FileParser struct {
	r      *bufio.Reader
	path   string
	header bool
}

// NewFileParser reads from r. path is only used in error messages.
func NewFileParser(r io.Reader, path string) *FileParser {
	return &FileParser{r: bufio.NewReader(r), path: path}
}

// Next returns the next payload, or io.EOF at the end of the stream. A
// truncated final frame is treated as the end of the stream. A wrong
// header or version returns a *errors.BackupFileError.
func (p *FileParser) Next() ([]byte, error) {
	if !p.header {
		if err := checkHeader(p.r, p.path); err != nil {
			return nil, err
		}
		p.header = true
	}

	var size [frameHeaderSize]byte
	if _, err := io.ReadFull(p.r, size[:]); err != nil {
		return nil, truncatedIsEOF(err)
	}
	// The buffer grows with the bytes actually read, so a corrupt length
	// cannot force a huge allocation.
	n := int64(binary.BigEndian.Uint32(size[:]))
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, p.r, n); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return payload.Bytes(), nil
}

func truncatedIsEOF(err error) error {
	if err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

// ReadRequests decodes every complete frame of a backup file.
func ReadRequests(r io.Reader, path string) ([]*coltracepb.ExportTraceServiceRequest, error) {
	p := NewFileParser(r, path)
	var out []*coltracepb.ExportTraceServiceRequest
	for {
		payload, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		req := &coltracepb.ExportTraceServiceRequest{}
		if err := proto.Unmarshal(payload, req); err != nil {
			return out, errors.Wrapf(err, "decoding frame %d of %s", len(out), path)
		}
		out = append(out, req)
	}
}

// fileClient is an otlptrace.Client that writes requests to a backup file
// instead of the network.
type fileClient struct {
	w *FileWriter
}

var _ otlptrace.Client = (*fileClient)(nil)

func (c *fileClient) Start(context.Context) error { return nil }

func (c *fileClient) Stop(context.Context) error { return c.w.Close() }

func (c *fileClient) UploadTraces(_ context.Context, spans []*tracepb.ResourceSpans) error {
	payload, err := proto.Marshal(&coltracepb.ExportTraceServiceRequest{ResourceSpans: spans})
	if err != nil {
		return errors.Wrap(err, "encoding backup frame")
	}
	return c.w.WriteFrame(payload)
}

// NewFileSpanExporter returns an exporter that appends every batch to the
// backup file at path. Shutting it down closes the file.
func NewFileSpanExporter(ctx context.Context, path string) (*otlptrace.Exporter, error) {
	return otlptrace.New(ctx, &fileClient{w: NewFileWriter(path)})
}
