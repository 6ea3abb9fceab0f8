// Package router ties the transport to the chat components.
//
// Every inbound message is classified by topic:
//
//   - the admin topic goes to the admin authority and its answer is published
//   - pass-through prefixes (signaling, tunnels) bypass all decision logic
//   - the input topic runs the chat path
//
// The chat path is: activity gate, navigation check, AI trigger check,
// window append, completion, creation detection, sanitize, publish, assistant
// append. Shared state is guarded by one coarse lock that is released while
// the completion provider or plugins run. An assistant turn may therefore
// land in a room that was switched away from during the call.
package router
