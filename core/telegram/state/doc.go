// Package state persists per-chat conversation sessions for Telegram bots.
// Stores deal in opaque encoded sessions; decoding, validation and repair are
// supplied by the caller through a Codec, so the package stays domain-agnostic.
package state
