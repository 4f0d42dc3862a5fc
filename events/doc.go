// Package events implements the per-session event bus.
//
// A Bus keeps every event it has seen. A subscriber first receives a
// STREAM_READY progress event, then the full history, then live events, so a
// transport that attaches late still sees the whole session. Heartbeats are
// injected per subscriber and stop as soon as the flow completes.
//
// Unsubscribing only detaches the consumer; it never affects generation.
package events
