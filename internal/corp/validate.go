// Package corp decides whether a character's corporation may use corpsso and
// keeps the registry of registered corporations.
package corp

import (
	"time"

	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/roles"
)

// NotRegisteredReason is the user-facing denial for an unregistered
// corporation when the character cannot self-register it.
const NotRegisteredReason = "Your corporation is not registered with this service. Contact your CEO or Directors to register it."

// Config is a corporation registration record.
type Config struct {
	CorporationID    int64     `json:"corporationId"`
	CorporationName  string    `json:"corporationName"`
	RegisteredScopes []string  `json:"registeredScopes"`
	IsActive         bool      `json:"isActive"`
	AutoRegistered   bool      `json:"autoRegistered"`
	RegistrationDate time.Time `json:"registrationDate"`
	LastTokenRefresh time.Time `json:"lastTokenRefresh,omitzero"`
}

// Result is the outcome of Validate. Config is nil when access is granted
// to a management character of an unregistered corporation; the caller must
// then register it.
type Result struct {
	IsValid       bool
	Reason        string
	SuggestedRole roles.Role
	Config        *Config
}

// NeedsRegistration reports whether a granted result still lacks a
// registration record.
func (r Result) NeedsRegistration() bool {
	return r.IsValid && r.Config == nil
}

// Validate checks the character's corporation against the registered
// snapshot. Inactive records never match.
func Validate(who identity.Character, eveRoles []string, registered []Config) Result {
	for i := range registered {
		c := registered[i]
		if c.IsActive && c.CorporationID == who.CorporationID {
			return Result{
				IsValid:       true,
				SuggestedRole: roles.MapRole(eveRoles),
				Config:        &c,
			}
		}
	}

	if roles.IsManagementRole(eveRoles) {
		return Result{IsValid: true, SuggestedRole: roles.CorpAdmin}
	}

	return Result{IsValid: false, Reason: NotRegisteredReason}
}
