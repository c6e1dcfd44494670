// Package mcp implements the client side of the Model Context Protocol
// for mcp-chat: transports, a per-server protocol client, and the
// [Manager] that owns sessions to every configured server.
//
// MCP is JSON-RPC 2.0 carried over one of three transports: stdio (a
// subprocess speaking newline-delimited JSON), SSE (a long-lived event
// stream plus POSTed requests), and streamable HTTP (one POST per
// message, replies as JSON or a short SSE stream). The manager probes
// each server, opens persistent sessions for the healthy ones, and
// merges their tools into a single catalog the agent loop can dispatch
// against.
package mcp
