// Package validate holds the checks a node must pass before it enters a
// session graph, the pluggable generation strategies that contribute their own
// rules and prompt guidance, and the whole-graph quality report used by the
// structured-output generator.
package validate
