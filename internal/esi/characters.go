package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time assertion: *httpClient implements Client.
var _ Client = (*httpClient)(nil)

// Character is the public record of a character.
type Character struct {
	CharacterID   int64
	Name          string
	CorporationID int64
	AllianceID    int64 // 0 when the corporation is not in an alliance
	CachedUntil   time.Time
}

// esiCharacterResponse is the raw JSON from GET /characters/{character_id}/.
type esiCharacterResponse struct {
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
	AllianceID    int64  `json:"alliance_id"`
}

// esiRolesResponse is the raw JSON from GET /characters/{character_id}/roles/.
type esiRolesResponse struct {
	Roles []string `json:"roles"`
}

// GetCharacter fetches a character's name, corporation and alliance.
func (c *httpClient) GetCharacter(ctx context.Context, characterID int64, token string) (Character, error) {
	url := fmt.Sprintf("%s/characters/%d/", c.baseURL, characterID)
	body, cacheUntil, err := c.do(ctx, url, token)
	if err != nil {
		return Character{}, fmt.Errorf("fetching character %d: %w", characterID, err)
	}

	var raw esiCharacterResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Character{}, fmt.Errorf("parsing character %d response: %w", characterID, err)
	}
	if raw.CorporationID <= 0 {
		return Character{}, fmt.Errorf("character %d has no corporation_id", characterID)
	}

	return Character{
		CharacterID:   characterID,
		Name:          raw.Name,
		CorporationID: raw.CorporationID,
		AllianceID:    raw.AllianceID,
		CachedUntil:   cacheUntil,
	}, nil
}

// GetCharacterRoles returns the character's corporation roles. Requires the
// esi-characters.read_corporation_roles.v1 scope.
func (c *httpClient) GetCharacterRoles(ctx context.Context, characterID int64, token string) ([]string, error) {
	url := fmt.Sprintf("%s/characters/%d/roles/", c.baseURL, characterID)
	body, _, err := c.do(ctx, url, token)
	if err != nil {
		return nil, fmt.Errorf("fetching roles for character %d: %w", characterID, err)
	}

	var raw esiRolesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing roles for character %d: %w", characterID, err)
	}
	return raw.Roles, nil
}
