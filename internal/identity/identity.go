// Package identity holds the resolved EVE identity of a logged-in character.
package identity

// Character is who a token belongs to. It is rebuilt on every login and
// never patched in place.
type Character struct {
	CharacterID     int64    `json:"characterId"`
	CharacterName   string   `json:"characterName"`
	CorporationID   int64    `json:"corporationId"`
	CorporationName string   `json:"corporationName"`
	AllianceID      int64    `json:"allianceId,omitempty"`
	AllianceName    string   `json:"allianceName,omitempty"`
	Scopes          []string `json:"scopes"`

	// CEOID is the character running the corporation, zero when unknown.
	CEOID int64 `json:"-"`
}

// UnknownCorporation is shown when the corporation name cannot be resolved.
const UnknownCorporation = "Unknown Corporation"
