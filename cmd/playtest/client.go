package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/service"
)

// Client plays as one player against the REST API.
type Client struct {
	baseURL  string
	playerID string
	client   *http.Client

	sessionID   string
	fingerprint uint64
}

func NewClient(baseURL, playerID string) *Client {
	return &Client{
		baseURL:  baseURL,
		playerID: playerID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		json.Unmarshal(data, &errResp)
		if errResp.Message == "" {
			errResp.Message = string(data)
		}
		return &apiError{Status: resp.StatusCode, Message: errResp.Message}
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("parse %s response: %w", path, err)
		}
	}
	return nil
}

// FindMatch queues the player.
func (c *Client) FindMatch(ctx context.Context, gameID string) (*service.MatchInfo, error) {
	var match service.MatchInfo
	err := c.do(ctx, "POST", "/api/matches/find", service.FindMatchRequest{GameID: gameID, PlayerID: c.playerID}, &match)
	if err != nil {
		return nil, err
	}
	c.sessionID = match.SessionID
	return &match, nil
}

// WaitForMatch polls the player's entry until it points at a session.
func (c *Client) WaitForMatch(ctx context.Context, gameID string, interval time.Duration) (*service.MatchInfo, error) {
	params := url.Values{"game_id": {gameID}, "player_id": {c.playerID}}
	for {
		var match service.MatchInfo
		if err := c.do(ctx, "GET", "/api/matches?"+params.Encode(), nil, &match); err != nil {
			return nil, err
		}
		switch {
		case match.Status == engine.StatusFailedNoPlayers:
			return &match, fmt.Errorf("no players found for %s", gameID)
		case match.SessionID != "":
			c.sessionID = match.SessionID
			return &match, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Poll reads the player's view, acknowledging the last state it saw.
func (c *Client) Poll(ctx context.Context) (*service.StateResult, error) {
	params := url.Values{"player_id": {c.playerID}}
	if c.fingerprint != 0 {
		params.Set("fingerprint", strconv.FormatUint(c.fingerprint, 10))
	}

	var state service.StateResult
	path := fmt.Sprintf("/api/matches/%s/state?%s", url.PathEscape(c.sessionID), params.Encode())
	if err := c.do(ctx, "GET", path, nil, &state); err != nil {
		return nil, err
	}
	c.fingerprint = state.Fingerprint
	return &state, nil
}

// Send submits an action in the current session.
func (c *Client) Send(ctx context.Context, payload engine.Payload) (*service.ActionResult, error) {
	var result service.ActionResult
	path := fmt.Sprintf("/api/matches/%s/actions", url.PathEscape(c.sessionID))
	err := c.do(ctx, "POST", path, service.SendActionRequest{PlayerID: c.playerID, Payload: payload}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Leave forfeits the current session.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, "POST", "/api/matches/leave", service.LeaveMatchRequest{PlayerID: c.playerID, SessionID: c.sessionID}, nil)
}
