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

// Package callsite locates the call expression that produced a runtime
// frame, so argument expressions can be turned into attribute names.
//
// Resolution is strictly two-tier. The exact tier accepts exactly one call
// to the expected function on the frame's line. The heuristic tier accepts
// exactly one call, anywhere in the statements enclosing that line, that
// passes the caller's filter. Anything else gives up with a warning: data
// is never attributed to a call that merely looks likely.
package callsite

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"runtime"
	"sync"

	"github.com/tombee/logfire-go/internal/log"
)

// Reason identifies why resolution failed.
type Reason string

const (
	// ReasonNoSource means the source file could not be read, e.g. the
	// binary runs somewhere its sources are not deployed.
	ReasonNoSource Reason = "no_source"
	// ReasonNoCandidates means no call passed the filter.
	ReasonNoCandidates Reason = "no_candidates"
	// ReasonAmbiguous means more than one call passed the filter.
	ReasonAmbiguous Reason = "ambiguous"
)

// Warning describes a failed resolution.
type Warning struct {
	Reason  Reason
	File    string
	Line    int
	Message string
}

// Request describes the call being resolved.
type Request struct {
	// Frame is the caller's frame, i.e. the frame that contains the call.
	Frame runtime.Frame

	// Callee is the called function or method name, e.g. "LogArgs".
	Callee string

	// Filter narrows heuristic candidates. Nil accepts every call.
	Filter func(*ast.CallExpr) bool

	// Consequence completes the warning, e.g. "arguments will be logged
	// under a generic 'args' attribute".
	Consequence string
}

// Site is a resolved call expression.
type Site struct {
	Call *ast.CallExpr
	// Args holds the source text of each argument expression.
	Args []string
}

type parsedFile struct {
	fset *token.FileSet
	file *ast.File
	src  []byte
	err  error
}

type siteKey struct {
	file string
	line int
}

// Finder resolves call sites, caching parsed files and per-line outcomes.
type Finder struct {
	files sync.Map // path -> *parsedFile
	sites sync.Map // siteKey -> *Site (nil when disabled)

	readFile func(string) ([]byte, error)

	mu     sync.Mutex
	onWarn []func(Warning)
}

// NewFinder creates a finder reading sources from the local filesystem.
func NewFinder() *Finder {
	return &Finder{readFile: os.ReadFile}
}

// OnWarning registers a hook that receives every warning. Warnings are
// also written to the SDK log.
func (f *Finder) OnWarning(fn func(Warning)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWarn = append(f.onWarn, fn)
}

// Find resolves req. It returns nil when the call cannot be resolved with
// certainty; the failure is warned about once per call site and the site
// stays disabled afterwards.
func (f *Finder) Find(req Request) *Site {
	key := siteKey{file: req.Frame.File, line: req.Frame.Line}
	if cached, ok := f.sites.Load(key); ok {
		return cached.(*Site)
	}
	site, reason := f.resolve(req)
	if site == nil {
		f.warn(req, reason)
	}
	f.sites.Store(key, site)
	return site
}

func (f *Finder) resolve(req Request) (*Site, Reason) {
	pf := f.parse(req.Frame.File)
	if pf.err != nil {
		return nil, ReasonNoSource
	}

	// exact: one call to the expected function on this very line
	var exact []*ast.CallExpr
	ast.Inspect(pf.file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if pf.fset.Position(call.Lparen).Line == req.Frame.Line && CalleeName(call) == req.Callee {
			exact = append(exact, call)
		}
		return true
	})
	if len(exact) == 1 {
		return pf.site(exact[0]), ""
	}

	// heuristic: one filtered call within the enclosing statements
	var candidates []*ast.CallExpr
	for _, stmt := range enclosingStatements(pf, req.Frame.Line) {
		ast.Inspect(stmt, func(n ast.Node) bool {
			if _, ok := n.(*ast.FuncLit); ok {
				return false
			}
			call, ok := n.(*ast.CallExpr)
			if ok && (req.Filter == nil || req.Filter(call)) {
				candidates = append(candidates, call)
			}
			return true
		})
	}
	switch len(candidates) {
	case 1:
		return pf.site(candidates[0]), ""
	case 0:
		return nil, ReasonNoCandidates
	default:
		return nil, ReasonAmbiguous
	}
}

func (f *Finder) parse(path string) *parsedFile {
	if cached, ok := f.files.Load(path); ok {
		return cached.(*parsedFile)
	}
	pf := &parsedFile{fset: token.NewFileSet()}
	src, err := f.readFile(path)
	if err == nil {
		pf.src = src
		pf.file, err = parser.ParseFile(pf.fset, path, src, parser.SkipObjectResolution)
	}
	pf.err = err
	actual, _ := f.files.LoadOrStore(path, pf)
	return actual.(*parsedFile)
}

func (pf *parsedFile) site(call *ast.CallExpr) *Site {
	args := make([]string, len(call.Args))
	for i, arg := range call.Args {
		start := pf.fset.Position(arg.Pos()).Offset
		end := pf.fset.Position(arg.End()).Offset
		if start >= 0 && end <= len(pf.src) && start <= end {
			args[i] = string(pf.src[start:end])
		}
	}
	return &Site{Call: call, Args: args}
}

// enclosingStatements returns the innermost statements whose extent covers
// line. A multi-line call is covered by the statement it belongs to.
func enclosingStatements(pf *parsedFile, line int) []ast.Stmt {
	var found []ast.Stmt
	ast.Inspect(pf.file, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		start := pf.fset.Position(n.Pos()).Line
		end := pf.fset.Position(n.End()).Line
		if line < start || line > end {
			return false
		}
		switch s := n.(type) {
		case *ast.BlockStmt:
			return true
		case ast.Stmt:
			if !hasInnerStatement(pf, s, line) {
				found = append(found, s)
				return false
			}
		}
		return true
	})
	return found
}

func hasInnerStatement(pf *parsedFile, outer ast.Stmt, line int) bool {
	inner := false
	ast.Inspect(outer, func(n ast.Node) bool {
		if inner || n == nil {
			return false
		}
		if n == ast.Node(outer) {
			return true
		}
		if _, ok := n.(*ast.FuncLit); ok {
			return false
		}
		if s, ok := n.(ast.Stmt); ok {
			if _, isBlock := s.(*ast.BlockStmt); !isBlock {
				start := pf.fset.Position(s.Pos()).Line
				end := pf.fset.Position(s.End()).Line
				if line >= start && line <= end {
					inner = true
					return false
				}
			}
		}
		return true
	})
	return inner
}

// CalleeName returns the bare name of the called function: F for F(),
// pkg.F() and x.y.F().
func CalleeName(call *ast.CallExpr) string {
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		return fn.Name
	case *ast.SelectorExpr:
		return fn.Sel.Name
	case *ast.IndexExpr:
		return CalleeName(&ast.CallExpr{Fun: fn.X})
	case *ast.IndexListExpr:
		return CalleeName(&ast.CallExpr{Fun: fn.X})
	}
	return ""
}

func (f *Finder) warn(req Request, reason Reason) {
	w := Warning{
		Reason:  reason,
		File:    req.Frame.File,
		Line:    req.Frame.Line,
		Message: FormatWarning(reason, req.Consequence),
	}
	log.WarnOnce(context.Background(), fmt.Sprintf("callsite:%s:%d", w.File, w.Line), w.Message,
		"file", w.File, "line", w.Line, "reason", string(reason))

	f.mu.Lock()
	hooks := append([]func(Warning){}, f.onWarn...)
	f.mu.Unlock()
	for _, hook := range hooks {
		hook(w)
	}
}

// FormatWarning builds the single warning text used for every failure: what
// went wrong, what it means for this use, and how to silence it for good.
func FormatWarning(reason Reason, consequence string) string {
	var what string
	switch reason {
	case ReasonNoSource:
		what = "Failed to introspect calling code: the source file is not available"
	case ReasonNoCandidates:
		what = "Failed to introspect calling code: no matching call was found on that line"
	case ReasonAmbiguous:
		what = "Failed to introspect calling code: more than one call on that line could be the logging call"
	default:
		what = "Failed to introspect calling code"
	}
	if consequence == "" {
		consequence = "falling back to degraded capture"
	}
	return fmt.Sprintf("%s. Consequently, %s. Pass logfire.WithInspectArguments(false) to disable argument inspection and silence this warning.", what, consequence)
}
