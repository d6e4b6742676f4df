// Package mcp exposes the retrieval engine as MCP tools over stdio.
//
// Tools are registered with the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and call the engine directly. The stdio client acts as one local caller:
// its Personal scope is the session configured on the server, and it may
// name another session per call.
package mcp
