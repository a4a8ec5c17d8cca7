package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Corporation is the public record of a corporation.
type Corporation struct {
	CorporationID int64
	Name          string
	Ticker        string
	CEOID         int64
	AllianceID    int64
	MemberCount   int64
	CachedUntil   time.Time
}

// Alliance is the public record of an alliance.
type Alliance struct {
	AllianceID  int64
	Name        string
	Ticker      string
	CachedUntil time.Time
}

// esiCorporationResponse is the raw JSON from GET /corporations/{corporation_id}/.
type esiCorporationResponse struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	CEOID       int64  `json:"ceo_id"`
	AllianceID  int64  `json:"alliance_id"`
	MemberCount int64  `json:"member_count"`
}

// esiAllianceResponse is the raw JSON from GET /alliances/{alliance_id}/.
type esiAllianceResponse struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// GetCorporation fetches public corporation info. No token is sent.
func (c *httpClient) GetCorporation(ctx context.Context, corporationID int64) (Corporation, error) {
	url := fmt.Sprintf("%s/corporations/%d/", c.baseURL, corporationID)
	body, cacheUntil, err := c.do(ctx, url, "")
	if err != nil {
		return Corporation{}, fmt.Errorf("fetching corporation %d: %w", corporationID, err)
	}

	var raw esiCorporationResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Corporation{}, fmt.Errorf("parsing corporation %d response: %w", corporationID, err)
	}

	return Corporation{
		CorporationID: corporationID,
		Name:          raw.Name,
		Ticker:        raw.Ticker,
		CEOID:         raw.CEOID,
		AllianceID:    raw.AllianceID,
		MemberCount:   raw.MemberCount,
		CachedUntil:   cacheUntil,
	}, nil
}

// GetAlliance fetches public alliance info. No token is sent.
func (c *httpClient) GetAlliance(ctx context.Context, allianceID int64) (Alliance, error) {
	url := fmt.Sprintf("%s/alliances/%d/", c.baseURL, allianceID)
	body, cacheUntil, err := c.do(ctx, url, "")
	if err != nil {
		return Alliance{}, fmt.Errorf("fetching alliance %d: %w", allianceID, err)
	}

	var raw esiAllianceResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Alliance{}, fmt.Errorf("parsing alliance %d response: %w", allianceID, err)
	}

	return Alliance{
		AllianceID:  allianceID,
		Name:        raw.Name,
		Ticker:      raw.Ticker,
		CachedUntil: cacheUntil,
	}, nil
}
