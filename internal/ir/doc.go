// Package ir provides the shared data model for fabsync.
//
// This package contains type definitions, canonical JSON and hashing only.
// All other internal packages import ir; ir imports nothing internal. This
// keeps the model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Records are plain map[string]any values as decoded from a source
//   - Service identity is the canonical JSON of the configuration, never
//     the order options were written in
//   - All serialized tags use snake_case
//   - Counts are values returned from a reconcile pass, never shared state
package ir
