// Package roles maps EVE in-game corporation roles to corpsso roles and
// defines the fixed permission set of every role.
package roles

import (
	"fmt"
	"strings"
)

// Role is an internal access level.
type Role string

const (
	SuperAdmin   Role = "super_admin"
	CorpAdmin    Role = "corp_admin"
	CorpDirector Role = "corp_director"
	CorpManager  Role = "corp_manager"
	CorpMember   Role = "corp_member"
	Guest        Role = "guest"
)

// All lists every role, most privileged first.
var All = []Role{SuperAdmin, CorpAdmin, CorpDirector, CorpManager, CorpMember, Guest}

// EVE role names as returned by /characters/{id}/roles/. CEO is not an ESI
// role; the resolver adds it when the character is the corporation's CEO.
const (
	EveCEO              = "CEO"
	EveDirector         = "Director"
	EvePersonnelManager = "Personnel_Manager"
	EveAccountant       = "Accountant"
	EveFactoryManager   = "Factory_Manager"
	EveStationManager   = "Station_Manager"
	EveManager          = "Manager"
)

var (
	directorRoles   = []string{EveDirector, EvePersonnelManager}
	managerRoles    = []string{EveManager, EveAccountant, EveFactoryManager, EveStationManager}
	managementRoles = []string{EveCEO, EveDirector, EvePersonnelManager}
)

// Permissions is the capability set attached to a role.
type Permissions struct {
	ManageSystem        bool `json:"manageSystem"`
	ManageCorp          bool `json:"manageCorp"`
	ManageUsers         bool `json:"manageUsers"`
	ViewFinancials      bool `json:"viewFinancials"`
	ManageManufacturing bool `json:"manageManufacturing"`
	ManageMining        bool `json:"manageMining"`
	ManageAssets        bool `json:"manageAssets"`
	ManageMarket        bool `json:"manageMarket"`
	ViewKillmails       bool `json:"viewKillmails"`
	ManageIncome        bool `json:"manageIncome"`
	ViewAllMembers      bool `json:"viewAllMembers"`
	EditAllData         bool `json:"editAllData"`
	ExportData          bool `json:"exportData"`
	DeleteData          bool `json:"deleteData"`
}

var permissionTable = map[Role]Permissions{
	SuperAdmin: {
		ManageSystem: true, ManageCorp: true, ManageUsers: true, ViewFinancials: true,
		ManageManufacturing: true, ManageMining: true, ManageAssets: true, ManageMarket: true,
		ViewKillmails: true, ManageIncome: true, ViewAllMembers: true, EditAllData: true,
		ExportData: true, DeleteData: true,
	},
	CorpAdmin: {
		ManageCorp: true, ManageUsers: true, ViewFinancials: true,
		ManageManufacturing: true, ManageMining: true, ManageAssets: true, ManageMarket: true,
		ViewKillmails: true, ManageIncome: true, ViewAllMembers: true, EditAllData: true,
		ExportData: true, DeleteData: true,
	},
	CorpDirector: {
		ManageUsers: true, ViewFinancials: true,
		ManageManufacturing: true, ManageMining: true, ManageAssets: true, ManageMarket: true,
		ViewKillmails: true, ManageIncome: true, ViewAllMembers: true, EditAllData: true,
		ExportData: true,
	},
	CorpManager: {
		ViewFinancials: true,
		ManageManufacturing: true, ManageMining: true, ManageAssets: true, ManageMarket: true,
		ViewKillmails: true, ManageIncome: true, ViewAllMembers: true,
		ExportData: true,
	},
	CorpMember: {
		ManageManufacturing: true, ManageMining: true,
		ViewKillmails: true,
	},
	Guest: {},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := permissionTable[r]
	return ok
}

// Parse converts s to a Role.
func Parse(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// PermissionsFor returns the permission set of r. Unknown roles get the empty
// (guest) set.
func PermissionsFor(r Role) Permissions {
	return permissionTable[r]
}

// MapRole derives a role from EVE corporation roles. The first matching tier
// wins: CEO, then director-level, then manager-level, otherwise member.
// super_admin and guest are never returned.
func MapRole(eveRoles []string) Role {
	switch {
	case hasAny(eveRoles, EveCEO):
		return CorpAdmin
	case hasAny(eveRoles, directorRoles...):
		return CorpDirector
	case hasAny(eveRoles, managerRoles...):
		return CorpManager
	default:
		return CorpMember
	}
}

// IsManagementRole reports whether eveRoles permit self-registering an
// unregistered corporation.
func IsManagementRole(eveRoles []string) bool {
	return hasAny(eveRoles, managementRoles...)
}

func hasAny(have []string, want ...string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
