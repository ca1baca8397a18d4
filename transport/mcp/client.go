package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Turn-Based Match Server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Turn-Based Match Server - MCP Interface

This is a thin client that proxies all requests to the REST API server.

FLOW:
1. list_games to pick a game_id
2. find_match (or join_match with a lobby alias), then get_match until status is "matched"
3. get_match_state to read your view, send_action to play
4. Keep polling get_match_state with the fingerprint you last saw; that also acknowledges the state

AVAILABLE TOOLS:
- list_games: Configured games and their player counts
- find_match: Queue for a match, optionally as a lobby
- get_match: Look up your match by game, session id or alias
- join_match: Join a lobby by its alias
- start_match: Start a lobby you are part of
- leave_match: Leave a match or a search
- cancel_search: Stop searching
- send_action: Submit public/private property changes
- get_match_state: Your view of the match
- game_instructions: Rules and action formats of the built-in rulesets`),
	)

	// Register all tools
	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Configuration
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_games",
		Description: "List configured games",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListGames)

	// Matchmaking
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "find_match",
		Description: "Queue a player for a match of the given game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id":   stringProp("Game to play"),
				"player_id": stringProp("Your player id"),
				"region":    stringProp("Region to match in (optional)"),
				"uses_lobby": map[string]interface{}{
					"type":        "boolean",
					"description": "Create a lobby others join by alias instead of random matching",
				},
			},
			Required: []string{"game_id", "player_id"},
		},
	}, c.handleFindMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_match",
		Description: "Look up a match by session id, alias, or your matchmaking entry",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id":    stringProp("Game of your entry"),
				"player_id":  stringProp("Your player id"),
				"session_id": stringProp("Session id (optional)"),
				"alias":      stringProp("Lobby alias (optional)"),
			},
		},
	}, c.handleGetMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_match",
		Description: "Join a lobby by its alias",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"alias":     stringProp("Lobby alias"),
				"player_id": stringProp("Your player id"),
			},
			Required: []string{"alias", "player_id"},
		},
	}, c.handleJoinMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "start_match",
		Description: "Start a lobby once enough players joined",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session id"),
				"player_id":  stringProp("Your player id"),
			},
			Required: []string{"session_id", "player_id"},
		},
	}, c.handleStartMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_match",
		Description: "Leave a match or a search. Leaving a started match forfeits it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id":  stringProp("Your player id"),
				"session_id": stringProp("Session id (optional)"),
				"game_id":    stringProp("Game of your entry (optional)"),
			},
			Required: []string{"player_id"},
		},
	}, c.handleLeaveMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "cancel_search",
		Description: "Cancel a search that has not been matched yet",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id":   stringProp("Game of your entry"),
				"player_id": stringProp("Your player id"),
			},
			Required: []string{"game_id", "player_id"},
		},
	}, c.handleCancelSearch)

	// Turns
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_action",
		Description: "Submit an action: property changes of the public and/or your private view",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session id"),
				"player_id":  stringProp("Your player id"),
				"public": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
					"description":          "Public property changes",
				},
				"private": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
					"description":          "Private property changes, e.g. {\"move\": \"ROCK\"}",
				},
				"intent": stringProp("Brief explanation of the intent behind this action (serves as a rubber duck to help explain your reasoning)"),
			},
			Required: []string{"session_id", "player_id"},
		},
	}, c.handleSendAction)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_match_state",
		Description: "Get your view of a match. Pass the fingerprint you last saw to acknowledge it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id":  stringProp("Session id"),
				"player_id":   stringProp("Your player id"),
				"fingerprint": stringProp("Fingerprint of the state you last saw (optional)"),
			},
			Required: []string{"session_id", "player_id"},
		},
	}, c.handleGetMatchState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get rules and action formats of the built-in rulesets",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Message != "" {
			return fmt.Errorf("%s", errResp.Message)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func mapArg(args map[string]interface{}, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// Tool handlers

func (c *Client) handleListGames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int                 `json:"count"`
		Games []*service.GameInfo `json:"games"`
	}
	if err := c.apiCall(ctx, "GET", "/api/games", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Available Games (%d):\n\n", response.Count)
	for _, g := range response.Games {
		result += fmt.Sprintf("• %s (ruleset %s)\n", g.GameID, g.Ruleset)
		if g.Description != "" {
			result += fmt.Sprintf("  %s\n", g.Description)
		}
		result += fmt.Sprintf("  Players: %d (lobby %d-%d)\n\n", g.PlayerCount, g.MinPlayers, g.MaxPlayers)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleFindMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	usesLobby, _ := args["uses_lobby"].(bool)
	body := service.FindMatchRequest{
		GameID:    stringArg(args, "game_id"),
		PlayerID:  stringArg(args, "player_id"),
		Region:    stringArg(args, "region"),
		UsesLobby: usesLobby,
	}

	var match service.MatchInfo
	if err := c.apiCall(ctx, "POST", "/api/matches/find", body, &match); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatchInfo(&match)), nil
}

func (c *Client) handleGetMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	params := url.Values{}
	for _, key := range []string{"game_id", "player_id", "session_id", "alias"} {
		if v := stringArg(args, key); v != "" {
			params.Set(key, v)
		}
	}

	var match service.MatchInfo
	if err := c.apiCall(ctx, "GET", "/api/matches?"+params.Encode(), nil, &match); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatchInfo(&match)), nil
}

func (c *Client) handleJoinMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	body := service.JoinMatchRequest{
		Alias:    stringArg(args, "alias"),
		PlayerID: stringArg(args, "player_id"),
	}

	var match service.MatchInfo
	if err := c.apiCall(ctx, "POST", "/api/matches/join", body, &match); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatchInfo(&match)), nil
}

func (c *Client) handleStartMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID := stringArg(args, "session_id")
	body := map[string]string{"player_id": stringArg(args, "player_id")}

	var match service.MatchInfo
	path := fmt.Sprintf("/api/matches/%s/start", url.PathEscape(sessionID))
	if err := c.apiCall(ctx, "POST", path, body, &match); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatchInfo(&match)), nil
}

func (c *Client) handleLeaveMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	body := service.LeaveMatchRequest{
		GameID:    stringArg(args, "game_id"),
		PlayerID:  stringArg(args, "player_id"),
		SessionID: stringArg(args, "session_id"),
	}

	if err := c.apiCall(ctx, "POST", "/api/matches/leave", body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("You left the match."), nil
}

func (c *Client) handleCancelSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	body := map[string]string{
		"game_id":   stringArg(args, "game_id"),
		"player_id": stringArg(args, "player_id"),
	}

	var match service.MatchInfo
	if err := c.apiCall(ctx, "POST", "/api/matches/cancel", body, &match); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatchInfo(&match)), nil
}

func (c *Client) handleSendAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID := stringArg(args, "session_id")

	// Intent parameter serves as rubber duck debugging - we don't need to process it further
	_ = stringArg(args, "intent")

	body := service.SendActionRequest{
		PlayerID: stringArg(args, "player_id"),
		Payload: engine.Payload{
			Public:  mapArg(args, "public"),
			Private: mapArg(args, "private"),
		},
	}

	var result service.ActionResult
	path := fmt.Sprintf("/api/matches/%s/actions", url.PathEscape(sessionID))
	if err := c.apiCall(ctx, "POST", path, body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatActionResult(&result)), nil
}

func (c *Client) handleGetMatchState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID := stringArg(args, "session_id")
	params := url.Values{}
	params.Set("player_id", stringArg(args, "player_id"))
	if fp := stringArg(args, "fingerprint"); fp != "" {
		params.Set("fingerprint", fp)
	}

	var state service.StateResult
	path := fmt.Sprintf("/api/matches/%s/state?%s", url.PathEscape(sessionID), params.Encode())
	if err := c.apiCall(ctx, "GET", path, nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatState(&state)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Turn-Based Match Server - Instructions

GENERAL:
• A match is a session with a public view shared by everyone and a private view per player
• Every state has a fingerprint. Poll get_match_state with the last fingerprint you saw:
  an unchanged state answers "unchanged", and the poll acknowledges the state for you
• Phases that wait for everybody only move on once all players acknowledged
• Leaving a started match forfeits it; the last player standing wins

ROCK-PAPER-SCISSORS (ruleset "rps"):
• Public: phase (sync, play, result, ended), deadline, score.<id>, move.<id>, round_winner, winner, end_reason
• Action: private {"move": "ROCK" | "PAPER" | "SCISSORS"}, once per round while phase is "play"
• A round resolves once every move is in or the deadline passed
• First to the victory score wins

GRID (ruleset "grid"):
• Public: phase, cells ("x,y_color" separated by ";"), current, color.<id>, deadline, winner, end_reason
• Action on your turn: private {"cell": "x,y_color"} to place, or "x,y_color,fromX,fromY" to move a piece
• Pieces must touch the existing group; line up the configured line length to win

GIVING UP:
• Any ruleset: private {"retreat": "1"}`

	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func formatMatchInfo(m *service.MatchInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game: %s\n", m.GameID)
	if m.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", m.Status)
	}
	if m.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", m.SessionID)
	}
	if m.Alias != "" {
		fmt.Fprintf(&b, "Alias: %s\n", m.Alias)
	}
	if m.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", m.Region)
	}
	if len(m.Participants) > 0 {
		names := make([]string, 0, len(m.Participants))
		for _, p := range m.Participants {
			name := p.ID
			if p.IsBot {
				name += " (bot)"
			}
			names = append(names, name)
		}
		fmt.Fprintf(&b, "Players: %s\n", strings.Join(names, ", "))
	}
	switch {
	case m.IsEnded:
		b.WriteString("🏁 Match ended\n")
	case m.IsStarted:
		b.WriteString("▶️ Match started\n")
	case m.UsesLobby && m.SessionID != "":
		b.WriteString("⏳ Waiting in lobby\n")
	}
	return b.String()
}

func formatActionResult(r *service.ActionResult) string {
	result := fmt.Sprintf("Action %s accepted\n", r.ActionID)
	if r.Committed {
		result += fmt.Sprintf("New state: turn %d, fingerprint %d\n", r.TurnNumber, r.Fingerprint)
	} else {
		result += fmt.Sprintf("State unchanged: turn %d, fingerprint %d\n", r.TurnNumber, r.Fingerprint)
	}
	if r.IsEnded {
		result += "🏁 Match ended\n"
	}
	return result
}

func formatState(s *service.StateResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nTurn: %d\nFingerprint: %d\n", s.SessionID, s.TurnNumber, s.Fingerprint)
	if s.Unchanged {
		b.WriteString("State unchanged since your last poll\n")
		return b.String()
	}
	if s.IsEnded {
		b.WriteString("🏁 Match ended\n")
	}
	writeProps(&b, "Public", s.Public)
	writeProps(&b, "Private", s.Private)
	return b.String()
}

func writeProps(b *strings.Builder, title string, props map[string]string) {
	if len(props) == 0 {
		return
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s = %q\n", k, props[k])
	}
}
