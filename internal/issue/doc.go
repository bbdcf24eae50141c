// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// This package defines error types that include remediation steps, plus a small
// registry of Markdown-formatted guidance rendered when someone runs vcs-ssh in
// an interactive terminal instead of over SSH.
package issue
