// Package core provides the foundational domain types shared by every
// neurallink component:
//
//   - Turns (immutable dialogue entries attributed to system/user/assistant)
//   - Content and Parts (provider neutral messages incl. function calls)
//   - Envelopes (the tagged union exchanged over the transport)
//   - Creations (structured payloads some rooms answer with)
//   - The error taxonomy used for routing decisions
//   - The PreferenceStore interface for optional persistence backends
//
// The package deliberately keeps behavior out of scope; components such as
// the router, dispatcher and plugin registry live in their own packages and
// communicate through these types.
package core
