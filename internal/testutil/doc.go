// Package testutil contains helpers shared by tests: a manual clock and a
// fluent envelope builder producing transport payloads. They are not
// intended for production usage.
package testutil
