// Package thinktag recognizes <think>...</think> sentinels inside a
// stream of text deltas and splits the stream into "thinking" and "text"
// spans accordingly.
//
// The recognizer is a small byte/rune-level state machine, not a regular
// expression: the input arrives one chunk at a time, chunk boundaries can
// fall anywhere (including mid-sentinel or mid-rune), and the machine
// must keep no more state across chunks than the sentinel itself
// requires.
package thinktag
