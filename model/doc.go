// Package model defines the provider-agnostic completion abstraction the
// dispatcher drives, plus a MockModel for tests and offline mode.
//
// Core goals:
//   - Hide vendor SDKs behind a single Model interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//
// Providers (OpenAI-compatible incl. Groq, Anthropic, Gemini) live in
// sub-packages and implement Model.
package model
