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

/*
Package cli provides the root command for the logfire tool.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	logfire
	├── autotrace       Write a build overlay that wraps functions in spans
	├── backup
	│   └── inspect     Summarize a backup file
	├── version         Show version
	└── help            Show help

# Global Flags

	--verbose, -v    Enable verbose output
	--json           Output in JSON format
	--config         Path to logfire.yaml

# Error Handling

Exit codes:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid flags or configuration
  - Exit 3: Unreadable backup file
*/
package cli
