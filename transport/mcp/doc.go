// Package mcp exposes the match server to AI agents over the Model Context
// Protocol.
//
// The mcp package implements:
//   - An MCP server whose tools proxy to the REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//   - list_games: Configured games
//   - find_match: Queue for a match or create a lobby
//   - get_match: Look up a match by entry, session id or alias
//   - join_match: Join a lobby by alias
//   - start_match: Start a lobby
//   - leave_match: Leave a match or a search
//   - cancel_search: Stop searching
//   - send_action: Submit public/private property changes
//   - get_match_state: A player's view, acknowledging the last seen fingerprint
//   - game_instructions: Rules of the built-in rulesets
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	response := client.GetMCPServer().HandleMessage(ctx, body)
package mcp
