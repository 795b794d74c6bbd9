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

package callsite

import (
	"go/ast"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoSource = `package demo

func run() {
	logfire.LogArgs("x", a, b.c)
	logfire.Info("y"); logfire.Info("z")
	logfire.LogArgs(
		"multi",
		x,
	)
}
`

func newTestFinder(files map[string]string) *Finder {
	f := NewFinder()
	f.readFile = func(path string) ([]byte, error) {
		src, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(src), nil
	}
	return f
}

func frameAt(line int) runtime.Frame {
	return runtime.Frame{File: "/src/demo.go", Line: line, Function: "demo.run"}
}

func TestFind_ExactTier(t *testing.T) {
	f := newTestFinder(map[string]string{"/src/demo.go": demoSource})

	site := f.Find(Request{Frame: frameAt(4), Callee: "LogArgs"})

	require.NotNil(t, site)
	assert.Equal(t, []string{`"x"`, "a", "b.c"}, site.Args)
}

func TestFind_HeuristicTierForMultiLineCall(t *testing.T) {
	f := newTestFinder(map[string]string{"/src/demo.go": demoSource})

	site := f.Find(Request{Frame: frameAt(8), Callee: "LogArgs"})

	require.NotNil(t, site)
	assert.Equal(t, []string{`"multi"`, "x"}, site.Args)
}

func TestFind_AmbiguousGivesUp(t *testing.T) {
	f := newTestFinder(map[string]string{"/src/demo.go": demoSource})
	var warnings []Warning
	f.OnWarning(func(w Warning) { warnings = append(warnings, w) })

	site := f.Find(Request{Frame: frameAt(5), Callee: "Info"})
	assert.Nil(t, site)

	// the site stays disabled and is only reported once
	assert.Nil(t, f.Find(Request{Frame: frameAt(5), Callee: "Info"}))
	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonAmbiguous, warnings[0].Reason)
	assert.Equal(t, 5, warnings[0].Line)
}

func TestFind_FilterNarrowsCandidates(t *testing.T) {
	f := newTestFinder(map[string]string{"/src/demo.go": demoSource})

	site := f.Find(Request{
		Frame:  frameAt(5),
		Callee: "Info",
		Filter: func(call *ast.CallExpr) bool {
			lit, ok := call.Args[0].(*ast.BasicLit)
			return ok && lit.Value == `"z"`
		},
	})

	require.NotNil(t, site)
	assert.Equal(t, []string{`"z"`}, site.Args)
}

func TestFind_NoCandidates(t *testing.T) {
	f := newTestFinder(map[string]string{"/src/demo.go": demoSource})
	var got []Warning
	f.OnWarning(func(w Warning) { got = append(got, w) })

	assert.Nil(t, f.Find(Request{Frame: frameAt(2), Callee: "LogArgs"}))
	require.Len(t, got, 1)
	assert.Equal(t, ReasonNoCandidates, got[0].Reason)
}

func TestFind_NoSourceWarnsImmediately(t *testing.T) {
	f := newTestFinder(nil)
	var got []Warning
	f.OnWarning(func(w Warning) { got = append(got, w) })

	site := f.Find(Request{Frame: frameAt(4), Callee: "LogArgs", Consequence: "arguments are logged as args"})

	assert.Nil(t, site)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonNoSource, got[0].Reason)
	assert.Contains(t, got[0].Message, "source file is not available")
	assert.Contains(t, got[0].Message, "arguments are logged as args")
}

func TestFind_RealSource(t *testing.T) {
	f := NewFinder()
	pcs := make([]uintptr, 1)
	var frame runtime.Frame
	capture := func(a, b int) {
		runtime.Callers(2, pcs)
		frame, _ = runtime.CallersFrames(pcs).Next()
	}
	left, right := 1, 2
	capture(left, right)

	site := f.Find(Request{Frame: frame, Callee: "capture"})

	require.NotNil(t, site)
	assert.Equal(t, []string{"left", "right"}, site.Args)
}

func TestFormatWarning(t *testing.T) {
	msg := FormatWarning(ReasonAmbiguous, "")
	assert.Contains(t, msg, "more than one call")
	assert.Contains(t, msg, "falling back to degraded capture")
	assert.Contains(t, msg, "WithInspectArguments(false)")
}

func TestCalleeName(t *testing.T) {
	tests := []struct {
		fun  ast.Expr
		want string
	}{
		{&ast.Ident{Name: "F"}, "F"},
		{&ast.SelectorExpr{X: &ast.Ident{Name: "pkg"}, Sel: &ast.Ident{Name: "G"}}, "G"},
		{&ast.IndexExpr{X: &ast.Ident{Name: "H"}, Index: &ast.Ident{Name: "int"}}, "H"},
		{&ast.FuncLit{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalleeName(&ast.CallExpr{Fun: tt.fun}))
	}
}
