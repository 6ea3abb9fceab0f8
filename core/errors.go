package core

import "errors"

// Error taxonomy. Components wrap these sentinels so the router can decide
// between dropping silently, reporting back, or degrading to fallback text.
var (
	// ErrValidation marks oversized or malformed input. Dropped silently.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited marks a message inside the sender's cooldown. Dropped silently.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuthDenied marks an admin command with a wrong token. Reported as security message.
	ErrAuthDenied = errors.New("access denied")
	// ErrProviderUnavailable marks a missing or unconfigured completion provider.
	ErrProviderUnavailable = errors.New("completion provider unavailable")
	// ErrProviderTimeout marks a provider call abandoned after the deadline.
	ErrProviderTimeout = errors.New("completion provider timeout")
	// ErrProvider marks any other provider failure.
	ErrProvider = errors.New("completion provider error")
	// ErrPluginCompile marks plugin source rejected at registration.
	ErrPluginCompile = errors.New("plugin compile error")
	// ErrPluginRejected marks plugin source or metadata outside the allowed capability set.
	ErrPluginRejected = errors.New("plugin rejected")
	// ErrPluginRuntime marks a plugin handler failure while firing.
	ErrPluginRuntime = errors.New("plugin runtime error")
	// ErrPluginNotFound marks an admin action on an unknown plugin name.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrUnknownRoom marks a switch request for a room outside the fixed set.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrUnknownCommand marks an unrecognized admin command.
	ErrUnknownCommand = errors.New("unknown command")
)
