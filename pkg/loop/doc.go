// Package loop implements the agentic turn loop: it drives a
// provider.Provider across up to LoopConfig.MaxIterations round trips,
// dispatching any tool calls the model requests strictly in order
// between rounds, and emits the resulting agent.LoopEvent sequence.
//
// Run never mutates the caller's message slice; it works on a local
// copy that grows by one (assistant) or more (assistant + tool results)
// messages per iteration.
package loop
