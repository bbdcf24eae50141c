// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform compatibility utilities.
//
// This package centralizes the runtime.GOOS string literals used for
// platform-specific branching, so callers compare against named
// constants instead of scattered magic strings.
package platform
