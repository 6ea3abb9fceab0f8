// Package plugin hosts operator-supplied trigger handlers.
//
// A plugin is a function from (trigger, data) to an optional Effect. Source
// is Go, interpreted by yaegi with only an allowlisted slice of the standard
// library visible, and may additionally run in a disposable child process
// (optionally wrapped in bwrap or docker) with resource limits.
//
// Plugin source must declare, in package main:
//
//	func HandleTrigger(trigger string, data map[string]interface{}) (map[string]interface{}, error)
//
// A non-nil result is decoded as {"action": ..., "message": ..., "target": ...}.
//
// Firing runs every active plugin subscribed to the trigger in registration
// order. Failures and panics are captured per plugin and never escape Fire.
package plugin
