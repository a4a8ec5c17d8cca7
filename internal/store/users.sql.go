package store

import (
	"context"
	"database/sql"
	"time"
)

const userColumns = `id, username, password_hash, character_id, character_name,
    corporation_id, corporation_name, alliance_id, alliance_name, role, auth_method,
    access_token, refresh_token, token_expiry, scopes, session_expiry, last_login,
    is_active, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.CharacterID,
		&u.CharacterName,
		&u.CorporationID,
		&u.CorporationName,
		&u.AllianceID,
		&u.AllianceName,
		&u.Role,
		&u.AuthMethod,
		&u.AccessToken,
		&u.RefreshToken,
		&u.TokenExpiry,
		&u.Scopes,
		&u.SessionExpiry,
		&u.LastLogin,
		&u.IsActive,
		&u.CreatedAt,
	)
	return u, err
}

func (q *Queries) listUsers(ctx context.Context, query string, args ...interface{}) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, getUser, id))
	return u, notFound(err)
}

const getUserByCharacterID = `SELECT ` + userColumns + ` FROM users WHERE character_id = ?`

func (q *Queries) GetUserByCharacterID(ctx context.Context, characterID int64) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, getUserByCharacterID, characterID))
	return u, notFound(err)
}

const getUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, getUserByUsername, username))
	return u, notFound(err)
}

const listUsers = `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	return q.listUsers(ctx, listUsers)
}

const listUsersByCorporation = `SELECT ` + userColumns + ` FROM users WHERE corporation_id = ? ORDER BY character_name, id`

func (q *Queries) ListUsersByCorporation(ctx context.Context, corporationID int64) ([]User, error) {
	return q.listUsers(ctx, listUsersByCorporation, corporationID)
}

const upsertESIUser = `
INSERT INTO users (
    id, character_id, character_name, corporation_id, corporation_name,
    alliance_id, alliance_name, role, auth_method, access_token, refresh_token,
    token_expiry, scopes, session_expiry, last_login, is_active, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'esi', ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (character_id) DO UPDATE SET
    character_name   = excluded.character_name,
    corporation_id   = excluded.corporation_id,
    corporation_name = excluded.corporation_name,
    alliance_id      = excluded.alliance_id,
    alliance_name    = excluded.alliance_name,
    role             = excluded.role,
    access_token     = excluded.access_token,
    refresh_token    = excluded.refresh_token,
    token_expiry     = excluded.token_expiry,
    scopes           = excluded.scopes,
    session_expiry   = excluded.session_expiry,
    last_login       = excluded.last_login
RETURNING ` + userColumns

type UpsertESIUserParams struct {
	ID              string // used only when the character is new
	CharacterID     int64
	CharacterName   string
	CorporationID   int64
	CorporationName string
	AllianceID      sql.NullInt64
	AllianceName    string
	Role            string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	Scopes          string
	SessionExpiry   time.Time
	LastLogin       time.Time
	CreatedAt       time.Time
}

// UpsertESIUser inserts or refreshes the user of a character and returns the
// stored row. is_active is never changed for an existing user.
func (q *Queries) UpsertESIUser(ctx context.Context, arg UpsertESIUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, upsertESIUser,
		arg.ID,
		arg.CharacterID,
		arg.CharacterName,
		arg.CorporationID,
		arg.CorporationName,
		arg.AllianceID,
		arg.AllianceName,
		arg.Role,
		arg.AccessToken,
		arg.RefreshToken,
		nullTime(arg.TokenExpiry),
		arg.Scopes,
		nullTime(arg.SessionExpiry),
		nullTime(arg.LastLogin),
		arg.CreatedAt.UTC(),
	)
	return scanUser(row)
}

const insertManualUserIfAbsent = `
INSERT INTO users (id, username, password_hash, role, auth_method, is_active, created_at)
VALUES (?, ?, ?, ?, 'manual', 1, ?)
ON CONFLICT (username) DO NOTHING
`

type InsertManualUserParams struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

func (q *Queries) InsertManualUserIfAbsent(ctx context.Context, arg InsertManualUserParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertManualUserIfAbsent,
		arg.ID,
		arg.Username,
		arg.PasswordHash,
		arg.Role,
		arg.CreatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const startManualSession = `UPDATE users SET session_expiry = ?, last_login = ? WHERE id = ?`

type StartManualSessionParams struct {
	ID            string
	SessionExpiry time.Time
	LastLogin     time.Time
}

func (q *Queries) StartManualSession(ctx context.Context, arg StartManualSessionParams) error {
	_, err := q.db.ExecContext(ctx, startManualSession,
		nullTime(arg.SessionExpiry),
		nullTime(arg.LastLogin),
		arg.ID,
	)
	return err
}

const updateUserTokens = `
UPDATE users SET access_token = ?, refresh_token = ?, token_expiry = ?
WHERE id = ?
`

type UpdateUserTokensParams struct {
	ID           string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

func (q *Queries) UpdateUserTokens(ctx context.Context, arg UpdateUserTokensParams) error {
	_, err := q.db.ExecContext(ctx, updateUserTokens,
		arg.AccessToken,
		arg.RefreshToken,
		nullTime(arg.TokenExpiry),
		arg.ID,
	)
	return err
}

const clearSession = `access_token = '', refresh_token = '', token_expiry = NULL, session_expiry = NULL`

const endSession = `UPDATE users SET ` + clearSession + ` WHERE id = ?`

func (q *Queries) EndSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, endSession, id)
	return err
}

const endSessionsByCorporation = `UPDATE users SET ` + clearSession + `
WHERE corporation_id = ? AND session_expiry IS NOT NULL`

func (q *Queries) EndSessionsByCorporation(ctx context.Context, corporationID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, endSessionsByCorporation, corporationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const expireSessions = `UPDATE users SET ` + clearSession + `
WHERE session_expiry IS NOT NULL AND session_expiry <= ?`

// ExpireSessions clears every session whose expiry is at or before now.
func (q *Queries) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, expireSessions, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setUserActive = `UPDATE users SET is_active = ? WHERE id = ?`

func (q *Queries) SetUserActive(ctx context.Context, id string, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setUserActive, active, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
