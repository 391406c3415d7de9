// Package tools defines the ToolRegistry contract the loop orchestrator
// depends on: listing available tools and executing a call by name. It
// provides the ToolExecutor contract that pluggable tool sources
// implement (built-in shell/file tools, MCP server tools), plus
// allowed-tools filtering. The aggregating Registry that composes them
// lives in pkg/tools/registry.
//
// This package depends only on pkg/agent.
package tools
