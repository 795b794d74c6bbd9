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

package autotrace

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rewriteSource(t *testing.T, src string, mutate ...func(*Options)) *Result {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "demo.go", src, parser.ParseComments|parser.SkipObjectResolution)
	require.NoError(t, err)

	opts := DefaultOptions("example.com/demo", "demo.go")
	for _, m := range mutate {
		m(&opts)
	}
	res, err := Rewrite(fset, file, []byte(src), opts)
	require.NoError(t, err)
	return res
}

func qualNames(res *Result) []string {
	names := make([]string, len(res.Records))
	for i, r := range res.Records {
		names[i] = r.QualName
	}
	return names
}

func TestRewrite_WrapsSimpleFunctionAndSkipsEmpty(t *testing.T) {
	src := `package demo

func f() int { return 1 }

// g is documented and does nothing.
func g() {}
`
	res := rewriteSource(t, src)

	require.True(t, res.Changed)
	require.Len(t, res.Records, 1)
	assert.Equal(t, CallSiteRecord{QualName: "f", Line: 3, Index: 0}, res.Records[0])

	reg := res.RegistryName
	assert.Contains(t, string(res.Source), "func f() int { defer "+reg+".Enter(0)(); return 1 }")
	assert.Contains(t, string(res.Source), "func g() {}")
}

func TestRewrite_TrivialBodiesAreUntouched(t *testing.T) {
	src := `package demo

func empty() {}

func bare() { return }

func block() { {} }

func generic[T any]() {}
`
	res := rewriteSource(t, src)

	assert.False(t, res.Changed)
	assert.Empty(t, res.Records)
	assert.Equal(t, src, string(res.Source))
	assert.Empty(t, res.File.Decls[0].(*ast.FuncDecl).Body.List)
}

func TestRewrite_OptOut(t *testing.T) {
	src := `package demo

import "github.com/tombee/logfire-go/pkg/logfire"

//logfire:no_auto_trace
func directive() int { return 1 }

func marker() int {
	NoAutoTrace()
	return 2
}

func aliased() int {
	logfire.NoAutoTrace()
	return 3
}

// quiet is skipped wholesale.
//
//logfire:no_auto_trace
type quiet struct{}

func (quiet) A() int { return 4 }

func (*quiet) B() int { return 5 }

type loud struct{}

func (l *loud) C() int { return 6 }
`
	res := rewriteSource(t, src)

	assert.Equal(t, []string{"(*loud).C"}, qualNames(res))
}

func TestRewrite_IteratorBodiesAreSkipped(t *testing.T) {
	src := `package demo

import "iter"

func Count(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}

func direct(yield func(int) bool) {
	yield(1)
	yield(2)
}
`
	res := rewriteSource(t, src)

	assert.Equal(t, []string{"Count"}, qualNames(res))
}

func TestRewrite_QualifiedNames(t *testing.T) {
	src := `package demo

type T struct{}

func (T) Value() int { return 1 }

func (t *T) Pointer() int { return 2 }

type G[K comparable] struct{}

func (g *G[K]) Get() int { return 3 }

func Outer() int {
	a := func() int {
		b := func() int { return 1 }
		return b()
	}
	c := func() int { return 2 }
	return a() + c()
}
`
	res := rewriteSource(t, src)

	assert.Equal(t, []string{
		"T.Value",
		"(*T).Pointer",
		"(*G[...]).Get",
		"Outer",
		"Outer.func1",
		"Outer.func1.1",
		"Outer.func2",
	}, qualNames(res))
	for i, rec := range res.Records {
		assert.Equal(t, i, rec.Index)
	}
}

func TestRewrite_GenericFunctions(t *testing.T) {
	src := `package demo

func Map[T, U any](in []T, f func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

func First[T any](in []T) T { return in[0] }
`
	res := rewriteSource(t, src)

	assert.Equal(t, []string{"Map[...]", "First[...]"}, qualNames(res))
}

func TestRewrite_SkipFuncLits(t *testing.T) {
	src := `package demo

func Outer() int {
	f := func() int { return 1 }
	return f()
}
`
	res := rewriteSource(t, src, func(o *Options) { o.SkipFuncLits = true })

	assert.Equal(t, []string{"Outer"}, qualNames(res))
}

func TestRewrite_ContextParameterIsRebound(t *testing.T) {
	src := `package demo

import stdctx "context"

func Handle(_ int, ctx stdctx.Context) error {
	return ctx.Err()
}

func Blank(_ stdctx.Context) error {
	return nil
}
`
	res := rewriteSource(t, src)
	reg := res.RegistryName

	out := string(res.Source)
	assert.Contains(t, out, "ctx, "+EndVar+" := "+reg+".Start(ctx, 0); defer "+EndVar+"();")
	assert.Contains(t, out, "defer "+reg+".Enter(1)();")
}

func TestRewrite_PreservesLinesAndCompilesSyntactically(t *testing.T) {
	src := `package demo

import "fmt"

func a() {
	fmt.Println("a")
}

func b() string {
	return fmt.Sprint("b")
}
`
	res := rewriteSource(t, src, func(o *Options) {
		o.Tags = []string{"auto", "demo"}
		o.SampleRate = 0.25
		o.MessageTemplate = "{qualname} called"
		o.MinDuration = 5 * time.Millisecond
	})

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "demo.go", res.Source, parser.SkipObjectResolution)
	require.NoError(t, err)

	lines := map[string]int{}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			lines[fn.Name.Name] = fset.Position(fn.Pos()).Line
		}
	}
	assert.Equal(t, 5, lines["a"])
	assert.Equal(t, 9, lines["b"])

	out := string(res.Source)
	assert.True(t, strings.HasPrefix(out, `package demo; import logfireautotrace "`+RuntimeImportPath+`"`))
	assert.Contains(t, out, `Tags: []string{"auto", "demo"}`)
	assert.Contains(t, out, `SampleRate: 0.25`)
	assert.Contains(t, out, `MessageTemplate: "{qualname} called"`)
	assert.Contains(t, out, `MinDuration: 5000000`)
	assert.Contains(t, out, `{QualName: "b", File: "demo.go", Line: 9}`)
}

func TestRewrite_ASTCarriesPrologueAndImport(t *testing.T) {
	res := rewriteSource(t, "package demo\n\nfunc f() int { return 1 }\n")

	var f *ast.FuncDecl
	for _, decl := range res.File.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == "f" {
			f = fn
		}
	}
	require.NotNil(t, f)
	require.Len(t, f.Body.List, 2)
	_, isDefer := f.Body.List[0].(*ast.DeferStmt)
	assert.True(t, isDefer)

	assert.Equal(t, RuntimeImportName, importName(res.File, RuntimeImportPath))
}

type multiLineEmitter struct{}

func (multiLineEmitter) Prologue(string, Func) string { return "a()\nb()" }

func TestRewrite_ProgrammerErrors(t *testing.T) {
	src := "package demo\n\nfunc f() int { return 1 }\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "demo.go", src, 0)
	require.NoError(t, err)

	_, err = Rewrite(fset, file, []byte(src), Options{Filename: "demo.go"})
	assert.ErrorIs(t, err, ErrNoEmitter)

	_, err = Rewrite(fset, file, []byte(src), Options{Filename: "demo.go", Emitter: multiLineEmitter{}})
	assert.Error(t, err)

	_, err = Rewrite(fset, file, []byte(src+"// extra"), DefaultOptions("m", "demo.go"))
	assert.Error(t, err)
}

func TestRegistryName(t *testing.T) {
	assert.Equal(t, RegistryName("a.go"), RegistryName("a.go"))
	assert.NotEqual(t, RegistryName("a.go"), RegistryName("b.go"))
	assert.True(t, strings.HasPrefix(RegistryName("a.go"), "logfireAutoTrace"))
}
