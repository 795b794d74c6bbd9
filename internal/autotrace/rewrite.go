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

// Package autotrace rewrites Go source so that every eligible function body
// opens a span through a generated pkg/autotrace.Registry.
//
// Rewriting is line-preserving: the span prologue is spliced onto the line
// of the body's opening brace, the runtime import onto the package clause
// line and the registry declaration after the last line of the file. Stack
// traces and code.lineno attributes therefore still point at the original
// source when the rewritten file is compiled through a build overlay.
package autotrace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/tombee/logfire-go/pkg/errors"
)

const (
	// RuntimeImportPath is the package generated code calls into.
	RuntimeImportPath = "github.com/tombee/logfire-go/pkg/autotrace"
	// RuntimeImportName is the name the runtime is imported under.
	RuntimeImportName = "logfireautotrace"
	// EndVar holds the end func in ctx-aware prologues.
	EndVar = "logfireAutoTraceEnd"

	optOutDirective = "//logfire:no_auto_trace"
	optOutFunc      = "NoAutoTrace"
	yieldIdent      = "yield"
)

// ErrNoEmitter is returned when Options carries no Emitter.
var ErrNoEmitter = errors.New("autotrace: options have no emitter")

// Func describes an instrumented function to an Emitter.
type Func struct {
	Index    int
	QualName string
	Line     int
	// CtxParam names the function's context.Context parameter, or is empty.
	CtxParam string
}

// Emitter produces the prologue statements spliced at the start of each
// instrumented body. The text must fit on one line.
type Emitter interface {
	Prologue(registry string, fn Func) string
}

// DeferEmitter emits a deferred registry call, rebinding the context
// parameter when the function has one.
type DeferEmitter struct{}

// Prologue implements Emitter.
func (DeferEmitter) Prologue(registry string, fn Func) string {
	if fn.CtxParam != "" {
		return fmt.Sprintf("%s, %s := %s.Start(%s, %d); defer %s();",
			fn.CtxParam, EndVar, registry, fn.CtxParam, fn.Index, EndVar)
	}
	return fmt.Sprintf("defer %s.Enter(%d)();", registry, fn.Index)
}

// Options control a rewrite.
type Options struct {
	// Module is the import path of the package being rewritten.
	Module string
	// Filename is recorded on spans as code.filepath.
	Filename string

	Tags            []string
	SampleRate      float64
	MessageTemplate string
	MinDuration     time.Duration

	// SkipFuncLits leaves function literals untouched.
	SkipFuncLits bool

	Emitter Emitter
}

// DefaultOptions returns options using DeferEmitter.
func DefaultOptions(module, filename string) Options {
	return Options{Module: module, Filename: filename, Emitter: DeferEmitter{}}
}

// CallSiteRecord is one instrumented function. Index is its slot in the
// generated registry and is stable for the rewritten file.
type CallSiteRecord struct {
	QualName string
	Line     int
	Index    int
}

// Result of a rewrite.
type Result struct {
	// File is the input file, modified in place when Changed.
	File *ast.File
	// Source is the rewritten source text, or the input when not Changed.
	Source       []byte
	Records      []CallSiteRecord
	RegistryName string
	Changed      bool
}

type edit struct {
	offset int
	text   string
}

type rewriter struct {
	fset     *token.FileSet
	file     *ast.File
	src      []byte
	opts     Options
	registry string
	ctxPkg   string
	optOut   map[string]bool
	records  []CallSiteRecord
	edits    []edit
	err      error
}

func (rw *rewriter) fail(err error) {
	if rw.err == nil {
		rw.err = err
	}
}

// Rewrite instruments every eligible function in file. src must be the
// source file was parsed from with fset. Functions that do not qualify are
// left exactly as they were; only programmer errors are returned.
func Rewrite(fset *token.FileSet, file *ast.File, src []byte, opts Options) (*Result, error) {
	if opts.Emitter == nil {
		return nil, ErrNoEmitter
	}
	if fset == nil || file == nil {
		return nil, errors.New("autotrace: nil file set or file")
	}
	tf := fset.File(file.Pos())
	if tf == nil || tf.Size() != len(src) {
		return nil, errors.New("autotrace: source does not match parsed file")
	}

	rw := &rewriter{
		fset:     fset,
		file:     file,
		src:      src,
		opts:     opts,
		registry: RegistryName(opts.Filename),
		ctxPkg:   importName(file, "context"),
		optOut:   optedOutTypes(file),
	}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			rw.funcDecl(fn)
		}
	}

	if rw.err != nil {
		return nil, rw.err
	}

	res := &Result{File: file, Source: src, Records: rw.records, RegistryName: rw.registry}
	if len(rw.records) == 0 {
		return res, nil
	}
	if err := rw.finishAST(); err != nil {
		return nil, err
	}
	res.Source = rw.splice()
	res.Changed = true
	return res, nil
}

// RegistryName derives a per-file identifier so that registries of files in
// one package never collide.
func RegistryName(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return "logfireAutoTrace" + hex.EncodeToString(sum[:4])
}

func (rw *rewriter) funcDecl(fn *ast.FuncDecl) {
	if hasDirective(fn.Doc) || (fn.Recv != nil && rw.optOut[receiverTypeName(fn.Recv)]) {
		return
	}
	qual := funcDeclName(fn)
	if opensWithNoAutoTrace(fn.Body) {
		return
	}
	rw.instrument(qual, fn.Type, fn.Body)
	rw.funcLits(qual, false, fn.Body)
}

// funcLits visits the literals directly nested in body, naming them the way
// the runtime does: F.func1, F.func2, and F.func1.1 for a literal inside
// F.func1.
func (rw *rewriter) funcLits(parent string, inLiteral bool, body *ast.BlockStmt) {
	if body == nil || rw.opts.SkipFuncLits {
		return
	}
	n := 0
	ast.Inspect(body, func(node ast.Node) bool {
		lit, ok := node.(*ast.FuncLit)
		if !ok {
			return true
		}
		n++
		var name string
		if inLiteral {
			name = parent + "." + strconv.Itoa(n)
		} else {
			name = parent + ".func" + strconv.Itoa(n)
		}
		if !opensWithNoAutoTrace(lit.Body) {
			rw.instrument(name, lit.Type, lit.Body)
			rw.funcLits(name, true, lit.Body)
		}
		return false
	})
}

func (rw *rewriter) instrument(qual string, typ *ast.FuncType, body *ast.BlockStmt) {
	if !eligible(body) {
		return
	}
	fn := Func{
		Index:    len(rw.records),
		QualName: qual,
		Line:     rw.fset.Position(typ.Pos()).Line,
		CtxParam: contextParam(typ, rw.ctxPkg),
	}
	text := rw.opts.Emitter.Prologue(rw.registry, fn)
	if strings.Contains(text, "\n") {
		rw.fail(errors.Errorf("autotrace: prologue for %s spans several lines", qual))
		return
	}
	stmts, err := parseStmts(text)
	if err != nil {
		rw.fail(errors.Wrapf(err, "autotrace: prologue for %s", qual))
		return
	}
	rw.records = append(rw.records, CallSiteRecord{QualName: qual, Line: fn.Line, Index: fn.Index})
	rw.edits = append(rw.edits, edit{offset: rw.fset.Position(body.Lbrace).Offset + 1, text: " " + text})
	body.List = append(stmts, body.List...)
}

// eligible rejects bodies where a span would be noise or wrong: absent or
// trivial bodies, and iterator bodies that hand control back through yield.
func eligible(body *ast.BlockStmt) bool {
	if body == nil || len(body.List) == 0 {
		return false
	}
	if len(body.List) == 1 {
		switch s := body.List[0].(type) {
		case *ast.ReturnStmt:
			if len(s.Results) == 0 {
				return false
			}
		case *ast.BlockStmt:
			if len(s.List) == 0 {
				return false
			}
		case *ast.EmptyStmt:
			return false
		}
	}
	return !callsYield(body)
}

func callsYield(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.CallExpr:
			if id, ok := x.Fun.(*ast.Ident); ok && id.Name == yieldIdent {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func opensWithNoAutoTrace(body *ast.BlockStmt) bool {
	if body == nil || len(body.List) == 0 {
		return false
	}
	es, ok := body.List[0].(*ast.ExprStmt)
	if !ok {
		return false
	}
	call, ok := es.X.(*ast.CallExpr)
	if !ok || len(call.Args) != 0 {
		return false
	}
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		return fn.Name == optOutFunc
	case *ast.SelectorExpr:
		_, isIdent := fn.X.(*ast.Ident)
		return isIdent && fn.Sel.Name == optOutFunc
	}
	return false
}

func hasDirective(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if strings.TrimSpace(c.Text) == optOutDirective {
			return true
		}
	}
	return false
}

// optedOutTypes collects types whose declaration carries the directive;
// all their methods are skipped.
func optedOutTypes(file *ast.File) map[string]bool {
	out := map[string]bool{}
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			if hasDirective(ts.Doc) || (len(gd.Specs) == 1 && hasDirective(gd.Doc)) {
				out[ts.Name.Name] = true
			}
		}
	}
	return out
}

// contextParam returns the first named context.Context parameter.
func contextParam(typ *ast.FuncType, ctxPkg string) string {
	if typ == nil || typ.Params == nil || ctxPkg == "" {
		return ""
	}
	for _, field := range typ.Params.List {
		sel, ok := field.Type.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Context" {
			continue
		}
		if x, ok := sel.X.(*ast.Ident); !ok || x.Name != ctxPkg {
			continue
		}
		for _, name := range field.Names {
			if name.Name != "_" {
				return name.Name
			}
		}
	}
	return ""
}

// importName returns the local name of path in file, or "" when it is not
// imported.
func importName(file *ast.File, path string) string {
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || p != path {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "_" || imp.Name.Name == "." {
				return ""
			}
			return imp.Name.Name
		}
		return path[strings.LastIndex(path, "/")+1:]
	}
	return ""
}

func funcDeclName(fn *ast.FuncDecl) string {
	name := fn.Name.Name
	if fn.Type.TypeParams != nil && len(fn.Type.TypeParams.List) > 0 {
		name += "[...]"
	}
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return name
	}
	recv := fn.Recv.List[0].Type
	typeName := receiverTypeName(fn.Recv)
	if _, generic := unstar(recv).(*ast.IndexExpr); generic {
		typeName += "[...]"
	} else if _, generic := unstar(recv).(*ast.IndexListExpr); generic {
		typeName += "[...]"
	}
	if _, ptr := recv.(*ast.StarExpr); ptr {
		return "(*" + typeName + ")." + fn.Name.Name
	}
	return typeName + "." + fn.Name.Name
}

func receiverTypeName(recv *ast.FieldList) string {
	if recv == nil || len(recv.List) == 0 {
		return ""
	}
	switch t := unstar(recv.List[0].Type).(type) {
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name
		}
	case *ast.IndexListExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name
		}
	}
	return ""
}

func unstar(e ast.Expr) ast.Expr {
	for {
		switch x := e.(type) {
		case *ast.StarExpr:
			e = x.X
		case *ast.ParenExpr:
			e = x.X
		default:
			return e
		}
	}
}

func parseStmts(text string) ([]ast.Stmt, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p; func _() {"+text+"}", parser.SkipObjectResolution)
	if err != nil {
		return nil, errors.Wrap(err, "parse prologue")
	}
	return f.Decls[0].(*ast.FuncDecl).Body.List, nil
}

// finishAST adds the runtime import and the registry declaration to the
// file's syntax tree, mirroring what splice does to the text.
func (rw *rewriter) finishAST() error {
	astutil.AddNamedImport(rw.fset, rw.file, RuntimeImportName, RuntimeImportPath)
	decl, err := parser.ParseFile(token.NewFileSet(), "", "package p\n"+rw.registryDecl(), parser.SkipObjectResolution)
	if err != nil {
		return errors.Wrap(err, "parse registry declaration")
	}
	rw.file.Decls = append(rw.file.Decls, decl.Decls...)
	return nil
}

func (rw *rewriter) registryDecl() string {
	var b strings.Builder
	fmt.Fprintf(&b, "var %s = %s.NewRegistry(%s.Settings{", rw.registry, RuntimeImportName, RuntimeImportName)
	fmt.Fprintf(&b, "Module: %s", strconv.Quote(rw.opts.Module))
	if len(rw.opts.Tags) > 0 {
		quoted := make([]string, len(rw.opts.Tags))
		for i, tag := range rw.opts.Tags {
			quoted[i] = strconv.Quote(tag)
		}
		fmt.Fprintf(&b, ", Tags: []string{%s}", strings.Join(quoted, ", "))
	}
	if rw.opts.SampleRate != 0 {
		fmt.Fprintf(&b, ", SampleRate: %s", strconv.FormatFloat(rw.opts.SampleRate, 'g', -1, 64))
	}
	if rw.opts.MessageTemplate != "" {
		fmt.Fprintf(&b, ", MessageTemplate: %s", strconv.Quote(rw.opts.MessageTemplate))
	}
	if rw.opts.MinDuration > 0 {
		fmt.Fprintf(&b, ", MinDuration: %d", int64(rw.opts.MinDuration))
	}
	fmt.Fprintf(&b, "}, []%s.CallSite{\n", RuntimeImportName)
	for _, rec := range rw.records {
		fmt.Fprintf(&b, "\t{QualName: %s, File: %s, Line: %d},\n",
			strconv.Quote(rec.QualName), strconv.Quote(rw.opts.Filename), rec.Line)
	}
	b.WriteString("})\n")
	return b.String()
}

// splice applies the collected edits to the original text without adding
// any line before the last original one.
func (rw *rewriter) splice() []byte {
	edits := append([]edit{{
		offset: rw.fset.Position(rw.file.Name.End()).Offset,
		text:   fmt.Sprintf("; import %s %s", RuntimeImportName, strconv.Quote(RuntimeImportPath)),
	}}, rw.edits...)
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].offset < edits[j].offset })

	var out bytes.Buffer
	out.Grow(len(rw.src) + 256)
	prev := 0
	for _, e := range edits {
		out.Write(rw.src[prev:e.offset])
		out.WriteString(e.text)
		prev = e.offset
	}
	out.Write(rw.src[prev:])
	if !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}
	out.WriteString("\n// Added by logfire autotrace.\n")
	out.WriteString(rw.registryDecl())
	return out.Bytes()
}
