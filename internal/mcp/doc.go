// Package mcp exposes the coordination engine as MCP tools over stdio.
//
// Every engine operation is one tool whose input mirrors the matching
// request struct. coord_apply takes a raw JSON payload, and coord_tools
// searches the tool registry. Coordination failures come back as tool
// errors prefixed with their code, e.g. "[no_pending_message] ...".
package mcp
