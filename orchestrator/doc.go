// Package orchestrator turns text deltas into setting nodes by driving a
// bounded tool-call loop against a model that can call exactly one tool,
// text_to_settings.
//
// Dispatch is fire-and-forget: the task is registered with the session gate
// before it starts and deregistered on every exit path, after which
// finalization is re-evaluated.
package orchestrator
