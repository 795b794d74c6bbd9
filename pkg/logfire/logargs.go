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

package logfire

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tombee/logfire-go/internal/callsite"
	"github.com/tombee/logfire-go/internal/log"
)

const logArgsConsequence = "arguments will be logged under a generic 'args' attribute"

// LogArgs logs args at level, naming each attribute after the expression
// that produced it:
//
//	lf.LogArgs(ctx, logfire.LevelInfo, user.ID, len(items))
//
// logs user.ID and len(items) as attributes "user.ID" and "len(items)".
// The names are read from the calling source file. When it is not
// available, or the call cannot be told apart from other calls on the same
// statement, the arguments are logged under "args" and a warning is
// emitted once for that call site.
func (l *Logfire) LogArgs(ctx context.Context, level Level, args ...any) {
	l.logArgs(ctx, level, 1, args)
}

// logArgs resolves the call skip frames above its caller.
func (l *Logfire) logArgs(ctx context.Context, level Level, skip int, args []any) {
	var names []string
	if l.core.settings.Load().inspectArguments {
		if frame, ok := callerFrame(skip + 1); ok {
			names = l.argNames(frame, len(args))
		}
	}

	var tmpl string
	var kvs []attribute.KeyValue
	if names == nil {
		tmpl = "{args}"
		kvs = []attribute.KeyValue{bucketAttribute(args)}
	} else {
		parts := make([]string, len(names))
		kvs = make([]attribute.KeyValue, len(names))
		for i, name := range names {
			kvs[i] = anyAttribute(name, args[i])
			if strings.ContainsAny(name, "{}") {
				parts[i] = escapeBraces(name)
			} else {
				parts[i] = name + " = {" + name + "}"
			}
		}
		tmpl = strings.Join(parts, ", ")
	}
	l.log(ctx, level, tmpl, kvs)
}

func (l *Logfire) argNames(frame runtime.Frame, n int) []string {
	site := l.core.finder.Find(callsite.Request{
		Frame:  frame,
		Callee: "LogArgs",
		Filter: func(call *ast.CallExpr) bool {
			return callsite.CalleeName(call) == "LogArgs" && !call.Ellipsis.IsValid() && len(call.Args) == n+2
		},
		Consequence: logArgsConsequence,
	})
	if site == nil || site.Call.Ellipsis.IsValid() || len(site.Args) != n+2 {
		return nil
	}
	return site.Args[2:]
}

// callerFrame returns the frame skip levels above its caller.
func callerFrame(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+2, pcs) == 0 {
		return runtime.Frame{}, false
	}
	f, _ := runtime.CallersFrames(pcs).Next()
	return f, f.File != ""
}

func escapeBraces(s string) string {
	return strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
}

func bucketAttribute(args []any) attribute.KeyValue {
	values := make([]string, len(args))
	for i, a := range args {
		values[i] = anyAttribute("", a).Value.Emit()
	}
	return attribute.StringSlice("args", values)
}

// anyAttribute converts value to an attribute. Scalars and slices of
// scalars keep their type, errors and Stringers use their text, and
// anything else is encoded as JSON.
func anyAttribute(key string, value any) (kv attribute.KeyValue) {
	kv = attribute.String(key, "<unrepresentable>")
	log.Contain(context.Background(), "attribute", func() {
		kv = convert(attribute.Key(key), value)
	})
	return kv
}

func convert(key attribute.Key, value any) attribute.KeyValue {
	switch v := value.(type) {
	case nil:
		return key.String("<nil>")
	case string:
		return key.String(v)
	case bool:
		return key.Bool(v)
	case int:
		return key.Int(v)
	case int8:
		return key.Int64(int64(v))
	case int16:
		return key.Int64(int64(v))
	case int32:
		return key.Int64(int64(v))
	case int64:
		return key.Int64(v)
	case uint8:
		return key.Int64(int64(v))
	case uint16:
		return key.Int64(int64(v))
	case uint32:
		return key.Int64(int64(v))
	case float32:
		return key.Float64(float64(v))
	case float64:
		return key.Float64(v)
	case []string:
		return key.StringSlice(v)
	case []bool:
		return key.BoolSlice(v)
	case []int:
		return key.IntSlice(v)
	case []int64:
		return key.Int64Slice(v)
	case []float64:
		return key.Float64Slice(v)
	case error:
		return key.String(v.Error())
	case fmt.Stringer:
		return key.String(v.String())
	}
	if b, err := json.Marshal(value); err == nil {
		return key.String(string(b))
	}
	return key.String(fmt.Sprintf("%+v", value))
}
