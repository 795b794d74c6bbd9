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

package shared

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Colors follow the console exporter: green ok, orange warn, red error.
var (
	renderer = lipgloss.NewRenderer(os.Stdout)

	statusOK    = renderer.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarn  = renderer.NewStyle().Foreground(lipgloss.Color("214"))
	statusError = renderer.NewStyle().Foreground(lipgloss.Color("196"))
	muted       = renderer.NewStyle().Foreground(lipgloss.Color("245"))

	// Header styles section headers
	Header = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// SetColorProfile overrides terminal detection, e.g. termenv.Ascii to
// disable colors.
func SetColorProfile(p termenv.Profile) {
	renderer.SetColorProfile(p)
}

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return statusOK.Render(SymbolOK) + " " + msg
}

// RenderWarn renders a warning message with orange symbol
func RenderWarn(msg string) string {
	return statusWarn.Render(SymbolWarn) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return statusError.Render(SymbolError) + " " + msg
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return muted.Render(label)
}
