// Package mcp provides the MCP (Model Context Protocol) client integration
// for the agent loop. It connects to external MCP servers, discovers their
// tools, and executes tool calls as part of the loop's tool execution
// pipeline.
//
// The package wraps the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk)
// and implements the tools.ToolExecutor interface, allowing MCP server tools
// to be used alongside the built-in shell and file tools.
//
// Configuration is provided via ServerConfig structs, which specify the
// server name, transport type (SSE or streamable-http), URL, and optional
// authentication headers.
package mcp
