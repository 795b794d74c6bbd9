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

// Package stack resolves source locations for spans and decides which
// frames belong to user code.
package stack

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Info is the source location of a frame.
type Info struct {
	// FilePath is relative to the working directory when the file lives under it.
	FilePath string
	LineNo   int
	// Function is the qualified name without the package path,
	// e.g. "(*Server).Handle" or "run.func1".
	Function string
	// Package is the import path of the function's package.
	Package string
}

// Attributes returns the code.* span attributes for i.
func (i Info) Attributes() []attribute.KeyValue {
	if i.FilePath == "" && i.Function == "" {
		return nil
	}
	attrs := []attribute.KeyValue{
		semconv.CodeFilepath(i.FilePath),
		semconv.CodeLineNumber(i.LineNo),
	}
	if i.Function != "" {
		attrs = append(attrs, semconv.CodeFunction(i.Function))
	}
	if i.Package != "" {
		attrs = append(attrs, semconv.CodeNamespace(i.Package))
	}
	return attrs
}

// Inspector classifies frames as user or infrastructure code using an
// append-only list of path prefixes.
type Inspector struct {
	mu       sync.Mutex // serializes appends
	prefixes atomic.Pointer[[]string]
}

// NewInspector creates an inspector that treats files under the given
// prefixes as non-user code.
func NewInspector(prefixes ...string) *Inspector {
	in := &Inspector{}
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			cleaned = append(cleaned, filepath.ToSlash(p))
		}
	}
	in.prefixes.Store(&cleaned)
	return in
}

// AddNonUserPrefix marks every file under prefix as infrastructure code.
func (in *Inspector) AddNonUserPrefix(prefix string) {
	if prefix == "" {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	old := *in.prefixes.Load()
	next := make([]string, len(old), len(old)+1)
	copy(next, old)
	next = append(next, filepath.ToSlash(prefix))
	in.prefixes.Store(&next)
}

// Prefixes returns a snapshot of the non-user prefixes.
func (in *Inspector) Prefixes() []string {
	p := *in.prefixes.Load()
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// IsUserFrame reports whether f belongs to user code.
func (in *Inspector) IsUserFrame(f runtime.Frame) bool {
	if f.File == "" || IsSynthetic(f) {
		return false
	}
	file := filepath.ToSlash(f.File)
	for _, p := range *in.prefixes.Load() {
		if strings.HasPrefix(file, p) {
			return false
		}
	}
	return true
}

// UserFrame walks up from the caller of UserFrame, skipping skip further
// frames, and returns the first user-code frame along with the number of
// frames passed over to reach it. The count is usable as a stack level for
// warnings reported against the user's call.
func (in *Inspector) UserFrame(skip int) (runtime.Frame, int, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	level := 0
	for {
		f, more := frames.Next()
		if in.IsUserFrame(f) {
			return f, level, true
		}
		level++
		if !more {
			return runtime.Frame{}, level, false
		}
	}
}

// IsSynthetic reports whether f was generated by the compiler rather than
// written by anyone: autogenerated method wrappers, defer/go statement
// wrappers and method-value thunks. Function literals are not synthetic;
// they may run far from where they are defined and are worth reporting.
func IsSynthetic(f runtime.Frame) bool {
	if f.File == "<autogenerated>" {
		return true
	}
	name := f.Function
	if strings.HasSuffix(name, "-fm") {
		return true
	}
	last := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		last = name[i+1:]
	}
	return strings.Contains(last, ".deferwrap") || strings.Contains(last, ".gowrap")
}

// InfoFromFrame builds the source location for f.
func InfoFromFrame(f runtime.Frame) Info {
	pkg, qual := SplitFunctionName(f.Function)
	return Info{
		FilePath: RelativePath(f.File),
		LineNo:   f.Line,
		Function: qual,
		Package:  pkg,
	}
}

// InfoFromPC builds the source location for a program counter.
func InfoFromPC(pc uintptr) Info {
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return InfoFromFrame(f)
}

// SplitFunctionName splits a runtime function name into its package path
// and qualified name:
// github.com/a/b.(*T).M -> github.com/a/b, (*T).M
func SplitFunctionName(name string) (pkg, qual string) {
	slash := strings.LastIndex(name, "/")
	dot := strings.Index(name[slash+1:], ".")
	if dot < 0 {
		return "", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

var (
	cwdOnce sync.Once
	cwd     string
)

// RelativePath returns path relative to the process working directory when
// path lives beneath it, and path unchanged otherwise.
func RelativePath(path string) string {
	cwdOnce.Do(func() {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	})
	if cwd == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

var defaultInspector = NewInspector(defaultPrefixes()...)

// Default returns the process-wide inspector, preloaded with the Go root
// and the SDK's own module directory.
func Default() *Inspector {
	return defaultInspector
}

// AddNonUserPrefix appends to the process-wide inspector.
func AddNonUserPrefix(prefix string) {
	defaultInspector.AddNonUserPrefix(prefix)
}

// UserFrame walks the process-wide inspector; see Inspector.UserFrame.
func UserFrame(skip int) (runtime.Frame, int, bool) {
	return defaultInspector.UserFrame(skip + 1)
}

func defaultPrefixes() []string {
	prefixes := []string{filepath.Join(runtime.GOROOT(), "src") + "/"}
	if _, file, _, ok := runtime.Caller(0); ok {
		// this file is <module>/internal/stack/stack.go
		root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
		prefixes = append(prefixes, root+"/internal/", root+"/pkg/")
	}
	if otel := moduleDirOf(trace.SpanContextFromContext, "go.opentelemetry.io/"); otel != "" {
		prefixes = append(prefixes, otel)
	}
	return prefixes
}

// moduleDirOf returns the directory of fn's source file cut just after
// marker, e.g. /go/pkg/mod/go.opentelemetry.io/.
func moduleDirOf(fn any, marker string) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}
	file, _ := f.FileLine(f.Entry())
	file = filepath.ToSlash(file)
	i := strings.Index(file, marker)
	if i < 0 {
		return ""
	}
	return file[:i+len(marker)]
}
