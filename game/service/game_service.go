package service

import (
	"context"
)

// GameService defines all match-related operations
type GameService interface {
	// Matchmaking
	FindMatch(ctx context.Context, req FindMatchRequest) (*MatchInfo, error)
	GetMatch(ctx context.Context, q MatchQuery) (*MatchInfo, error)
	JoinMatch(ctx context.Context, req JoinMatchRequest) (*MatchInfo, error)
	StartMatch(ctx context.Context, sessionID, playerID string) (*MatchInfo, error)
	LeaveMatch(ctx context.Context, req LeaveMatchRequest) error
	CancelSearch(ctx context.Context, gameID, playerID string) (*MatchInfo, error)

	// Turns
	SendAction(ctx context.Context, req SendActionRequest) (*ActionResult, error)
	GetMatchState(ctx context.Context, q StateQuery) (*StateResult, error)

	// Configuration
	ListGames(ctx context.Context) ([]*GameInfo, error)
}

// GameCatalog describes the configured games
type GameCatalog interface {
	ListGames() []*GameInfo
}
