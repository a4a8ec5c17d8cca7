package sso

import (
	"errors"
	"fmt"
)

// ErrUnknownScopeType is returned for a scope tier name that is not defined.
var ErrUnknownScopeType = errors.New("unknown scope type")

// ScopeType names a cumulative tier of requested ESI scopes.
type ScopeType string

const (
	ScopeBasic       ScopeType = "basic"
	ScopeEnhanced    ScopeType = "enhanced"
	ScopeCorporation ScopeType = "corporation"
)

var basicScopes = []string{
	"publicData",
	"esi-characters.read_corporation_roles.v1",
}

var enhancedScopes = []string{
	"esi-industry.read_character_jobs.v1",
	"esi-wallet.read_character_wallet.v1",
	"esi-assets.read_assets.v1",
	"esi-characters.read_blueprints.v1",
}

var corporationScopes = []string{
	"esi-corporations.read_corporation_membership.v1",
	"esi-industry.read_corporation_jobs.v1",
	"esi-wallet.read_corporation_wallets.v1",
	"esi-killmails.read_corporation_killmails.v1",
	"esi-corporations.read_structures.v1",
	"esi-contracts.read_corporation_contracts.v1",
	"esi-industry.read_corporation_mining.v1",
	"esi-planets.read_customs_offices.v1",
	"esi-assets.read_corporation_assets.v1",
	"esi-corporations.read_blueprints.v1",
	"esi-corporations.read_divisions.v1",
	"esi-corporations.read_titles.v1",
	"esi-corporations.track_members.v1",
	"esi-corporations.read_starbases.v1",
	"esi-corporations.read_facilities.v1",
	"esi-corporations.read_container_logs.v1",
	"esi-corporations.read_standings.v1",
	"esi-corporations.read_medals.v1",
	"esi-markets.read_corporation_orders.v1",
	"esi-universe.read_structures.v1",
}

// ParseScopeType validates s as a tier name. An empty string selects basic.
func ParseScopeType(s string) (ScopeType, error) {
	if s == "" {
		return ScopeBasic, nil
	}
	t := ScopeType(s)
	if _, err := ScopesFor(t); err != nil {
		return "", err
	}
	return t, nil
}

// ScopesFor returns the ordered scope list of tier t. The returned slice is a
// fresh copy.
func ScopesFor(t ScopeType) ([]string, error) {
	var out []string
	switch t {
	case ScopeCorporation:
		out = append(out, basicScopes...)
		out = append(out, enhancedScopes...)
		out = append(out, corporationScopes...)
	case ScopeEnhanced:
		out = append(out, basicScopes...)
		out = append(out, enhancedScopes...)
	case ScopeBasic:
		out = append(out, basicScopes...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScopeType, string(t))
	}
	return out, nil
}
