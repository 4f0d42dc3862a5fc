// Package textphase drives the streaming text phase of a session.
//
// Each round streams prose from the text model in the three-line node
// convention. The stream is cut into overlapping batches that are handed to
// the orchestrator as background tasks while the stream keeps flowing. The
// last round marks the text phase ended on the session gate, after the
// remaining tail has been registered as a task.
package textphase
