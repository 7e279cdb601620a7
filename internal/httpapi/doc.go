// Package httpapi exposes the management REST surface: scheduling and
// inspecting broadcasts, browsing history, and listing recurring definitions.
package httpapi
