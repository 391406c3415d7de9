// Package ndjson decodes a newline-delimited JSON stream one frame at a
// time, tolerating reads that split a multi-byte UTF-8 rune or an entire
// frame across Read boundaries.
//
// A Decoder is built around one io.Reader for the lifetime of one
// streaming request; it is not reusable across connections.
package ndjson
