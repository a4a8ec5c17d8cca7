package store

import (
	"database/sql"
	"time"
)

type Corporation struct {
	ID               int64
	Name             string
	RegisteredScopes string
	IsActive         bool
	AutoRegistered   bool
	RegistrationDate time.Time
	LastTokenRefresh sql.NullTime
}

type User struct {
	ID              string
	Username        sql.NullString
	PasswordHash    string
	CharacterID     sql.NullInt64
	CharacterName   string
	CorporationID   sql.NullInt64
	CorporationName string
	AllianceID      sql.NullInt64
	AllianceName    string
	Role            string
	AuthMethod      string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     sql.NullTime
	Scopes          string
	SessionExpiry   sql.NullTime
	LastLogin       sql.NullTime
	IsActive        bool
	CreatedAt       time.Time
}
