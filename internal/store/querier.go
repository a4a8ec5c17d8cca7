package store

import (
	"context"
	"time"
)

type Querier interface {
	EndSession(ctx context.Context, id string) error
	EndSessionsByCorporation(ctx context.Context, corporationID int64) (int64, error)
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
	GetCorporation(ctx context.Context, id int64) (Corporation, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByCharacterID(ctx context.Context, characterID int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	InsertCorporationIfAbsent(ctx context.Context, arg InsertCorporationParams) (bool, error)
	InsertManualUserIfAbsent(ctx context.Context, arg InsertManualUserParams) (bool, error)
	ListActiveCorporations(ctx context.Context) ([]Corporation, error)
	ListCorporations(ctx context.Context) ([]Corporation, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByCorporation(ctx context.Context, corporationID int64) ([]User, error)
	SetCorporationActive(ctx context.Context, id int64, active bool) (int64, error)
	SetUserActive(ctx context.Context, id string, active bool) (int64, error)
	StartManualSession(ctx context.Context, arg StartManualSessionParams) error
	TouchCorporationTokenRefresh(ctx context.Context, id int64, at time.Time) error
	UpdateUserTokens(ctx context.Context, arg UpdateUserTokensParams) error
	UpsertCorporation(ctx context.Context, arg UpsertCorporationParams) error
	UpsertESIUser(ctx context.Context, arg UpsertESIUserParams) (User, error)
}

var _ Querier = (*Queries)(nil)
