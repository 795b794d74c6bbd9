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
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tombee/logfire-go/internal/tracing/scrub"
)

// formatMessage fills {name} placeholders in template from kvs. "{{" and
// "}}" stand for literal braces and unknown names are left as written.
// Values are scrubbed before they are rendered.
func formatMessage(template string, kvs []attribute.KeyValue, scrubber *scrub.Scrubber) string {
	if !strings.ContainsAny(template, "{}") {
		return template
	}

	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				b.WriteString(template[i:])
				return b.String()
			}
			name := template[i+1 : i+1+end]
			if v, ok := lookup(kvs, name); ok {
				b.WriteString(render(name, v, scrubber))
			} else {
				b.WriteString(template[i : i+2+end])
			}
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func lookup(kvs []attribute.KeyValue, name string) (attribute.Value, bool) {
	for i := len(kvs) - 1; i >= 0; i-- {
		if string(kvs[i].Key) == name {
			return kvs[i].Value, true
		}
	}
	return attribute.Value{}, false
}

func render(name string, v attribute.Value, scrubber *scrub.Scrubber) string {
	original := v.AsInterface()
	scrubbed := scrubber.Value(name, original)
	if s := fmt.Sprint(scrubbed); s != fmt.Sprint(original) {
		return s
	}
	return v.Emit()
}
