// Package dispatch turns a room and a window snapshot into a reply.
//
// Respond builds the prompt (rendered room prompt, optional JSON-only
// instruction, user preferences, windowed turns), calls the model under a
// deadline and interprets the answer. A function call is executed locally
// and its serialized ActionResult becomes the reply. Any provider failure
// resolves to the deterministic Fallback. Respond never returns an error and
// its text never exceeds MaxOutput runes.
package dispatch
