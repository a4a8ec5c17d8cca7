package store

import (
	"context"
	"database/sql"
	"time"
)

const corporationColumns = `id, name, registered_scopes, is_active, auto_registered, registration_date, last_token_refresh`

func scanCorporation(row interface{ Scan(...interface{}) error }) (Corporation, error) {
	var c Corporation
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.RegisteredScopes,
		&c.IsActive,
		&c.AutoRegistered,
		&c.RegistrationDate,
		&c.LastTokenRefresh,
	)
	return c, err
}

func (q *Queries) listCorporations(ctx context.Context, query string, args ...interface{}) ([]Corporation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Corporation{}
	for rows.Next() {
		c, err := scanCorporation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getCorporation = `SELECT ` + corporationColumns + ` FROM corporations WHERE id = ?`

func (q *Queries) GetCorporation(ctx context.Context, id int64) (Corporation, error) {
	c, err := scanCorporation(q.db.QueryRowContext(ctx, getCorporation, id))
	return c, notFound(err)
}

const listCorporations = `SELECT ` + corporationColumns + ` FROM corporations ORDER BY name, id`

func (q *Queries) ListCorporations(ctx context.Context) ([]Corporation, error) {
	return q.listCorporations(ctx, listCorporations)
}

const listActiveCorporations = `SELECT ` + corporationColumns + ` FROM corporations WHERE is_active = 1 ORDER BY name, id`

func (q *Queries) ListActiveCorporations(ctx context.Context) ([]Corporation, error) {
	return q.listCorporations(ctx, listActiveCorporations)
}

const insertCorporationIfAbsent = `
INSERT INTO corporations (id, name, registered_scopes, is_active, auto_registered, registration_date)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT (id) DO NOTHING
`

type InsertCorporationParams struct {
	ID               int64
	Name             string
	RegisteredScopes string
	AutoRegistered   bool
	RegistrationDate time.Time
}

// InsertCorporationIfAbsent reports whether a row was inserted. An existing
// row, active or not, is left untouched.
func (q *Queries) InsertCorporationIfAbsent(ctx context.Context, arg InsertCorporationParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertCorporationIfAbsent,
		arg.ID,
		arg.Name,
		arg.RegisteredScopes,
		arg.AutoRegistered,
		arg.RegistrationDate.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const upsertCorporation = `
INSERT INTO corporations (id, name, registered_scopes, is_active, auto_registered, registration_date)
VALUES (?, ?, ?, 1, 0, ?)
ON CONFLICT (id) DO UPDATE SET
    name              = excluded.name,
    registered_scopes = excluded.registered_scopes,
    is_active         = 1
`

type UpsertCorporationParams struct {
	ID               int64
	Name             string
	RegisteredScopes string
	RegistrationDate time.Time
}

func (q *Queries) UpsertCorporation(ctx context.Context, arg UpsertCorporationParams) error {
	_, err := q.db.ExecContext(ctx, upsertCorporation,
		arg.ID,
		arg.Name,
		arg.RegisteredScopes,
		arg.RegistrationDate.UTC(),
	)
	return err
}

const setCorporationActive = `UPDATE corporations SET is_active = ? WHERE id = ?`

func (q *Queries) SetCorporationActive(ctx context.Context, id int64, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setCorporationActive, active, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const touchCorporationTokenRefresh = `UPDATE corporations SET last_token_refresh = ? WHERE id = ?`

func (q *Queries) TouchCorporationTokenRefresh(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, touchCorporationTokenRefresh, sql.NullTime{Time: at.UTC(), Valid: true}, id)
	return err
}
