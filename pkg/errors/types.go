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

package errors

import (
	"fmt"
)

// ValidationError represents invalid caller input, such as a malformed
// option value or an unsupported exporter type.
type ValidationError struct {
	// Field identifies which input failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "token", "sampling.head")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// BodyTooLargeError is returned by the export session when a serialized
// request exceeds the backend's maximum body size. Exporters that can split
// a batch react to it; everything else treats it as a plain failure.
type BodyTooLargeError struct {
	// Size is the encoded request size in bytes
	Size int

	// Max is the largest accepted size in bytes
	Max int
}

// Error implements the error interface.
func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body is too large (%d bytes), must be less than %d bytes", e.Size, e.Max)
}

// ErrorType implements ErrorClassifier.
func (e *BodyTooLargeError) ErrorType() string { return "body_too_large" }

// IsRetryable implements ErrorClassifier. Resending the same body never succeeds.
func (e *BodyTooLargeError) IsRetryable() bool { return false }

// BackupFileError is returned when a backup file does not start with the
// expected header and version lines.
type BackupFileError struct {
	// Path is the file being read, if known
	Path string

	// Reason describes the mismatch
	Reason string
}

// Error implements the error interface.
func (e *BackupFileError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid backup file %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid backup file: %s", e.Reason)
}

// ExportError describes a failed export request against a backend.
type ExportError struct {
	// Endpoint is the URL the request was sent to
	Endpoint string

	// StatusCode is the HTTP status code (zero when the request never completed)
	StatusCode int

	// Retryable reports whether the same request may succeed later
	Retryable bool

	// Cause is the underlying transport error, if any
	Cause error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	msg := fmt.Sprintf("export to %s failed", e.Endpoint)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ExportError) ErrorType() string { return "export" }

// IsRetryable implements ErrorClassifier.
func (e *ExportError) IsRetryable() bool { return e.Retryable }
