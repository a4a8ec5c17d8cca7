package corp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/store"
)

// ErrNotFound is returned for an unknown corporation id.
var ErrNotFound = errors.New("corporation not found")

// Registry owns the registered corporations.
type Registry struct {
	repo   store.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry returns a Registry over repo.
func NewRegistry(repo store.Repository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logging.OrNop(logger).Named("corp"),
		now:    time.Now,
	}
}

// Register registers corporationID or updates and reactivates an existing
// registration.
func (r *Registry) Register(ctx context.Context, corporationID int64, name string, scopes []string) (Config, error) {
	if corporationID <= 0 {
		return Config{}, fmt.Errorf("invalid corporation id %d", corporationID)
	}
	if strings.TrimSpace(name) == "" {
		return Config{}, fmt.Errorf("corporation name is required")
	}
	err := r.repo.UpsertCorporation(ctx, store.UpsertCorporationParams{
		ID:               corporationID,
		Name:             name,
		RegisteredScopes: strings.Join(scopes, " "),
		RegistrationDate: r.now(),
	})
	if err != nil {
		return Config{}, fmt.Errorf("registering corporation %d: %w", corporationID, err)
	}
	r.logger.Info("corporation registered", zap.Int64("corporation_id", corporationID), zap.String("name", name))
	return r.Get(ctx, corporationID)
}

// AutoRegister registers the character's corporation if it is not yet
// known. It reports whether this call created the record. A concurrent
// duplicate collapses into a single row. An existing inactive record is
// returned unchanged.
func (r *Registry) AutoRegister(ctx context.Context, who identity.Character, scopes []string) (Config, bool, error) {
	created, err := r.repo.InsertCorporationIfAbsent(ctx, store.InsertCorporationParams{
		ID:               who.CorporationID,
		Name:             who.CorporationName,
		RegisteredScopes: strings.Join(scopes, " "),
		AutoRegistered:   true,
		RegistrationDate: r.now(),
	})
	if err != nil {
		return Config{}, false, fmt.Errorf("auto-registering corporation %d: %w", who.CorporationID, err)
	}
	if created {
		r.logger.Info("corporation auto-registered",
			zap.Int64("corporation_id", who.CorporationID),
			zap.String("name", who.CorporationName),
			zap.Int64("by_character_id", who.CharacterID))
	}
	c, err := r.Get(ctx, who.CorporationID)
	return c, created, err
}

// Deactivate revokes access for corporationID and ends every live session
// of its members. It returns the number of sessions ended.
func (r *Registry) Deactivate(ctx context.Context, corporationID int64) (int64, error) {
	var ended int64
	err := r.repo.InTx(ctx, func(q store.Querier) error {
		n, err := q.SetCorporationActive(ctx, corporationID, false)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		ended, err = q.EndSessionsByCorporation(ctx, corporationID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deactivating corporation %d: %w", corporationID, err)
	}
	r.logger.Info("corporation deactivated",
		zap.Int64("corporation_id", corporationID), zap.Int64("sessions_ended", ended))
	return ended, nil
}

// Activate restores access for corporationID.
func (r *Registry) Activate(ctx context.Context, corporationID int64) error {
	n, err := r.repo.SetCorporationActive(ctx, corporationID, true)
	if err != nil {
		return fmt.Errorf("activating corporation %d: %w", corporationID, err)
	}
	if n == 0 {
		return fmt.Errorf("activating corporation %d: %w", corporationID, ErrNotFound)
	}
	r.logger.Info("corporation activated", zap.Int64("corporation_id", corporationID))
	return nil
}

// Get returns one registration.
func (r *Registry) Get(ctx context.Context, corporationID int64) (Config, error) {
	row, err := r.repo.GetCorporation(ctx, corporationID)
	if errors.Is(err, store.ErrNotFound) {
		return Config{}, fmt.Errorf("corporation %d: %w", corporationID, ErrNotFound)
	}
	if err != nil {
		return Config{}, fmt.Errorf("loading corporation %d: %w", corporationID, err)
	}
	return fromRow(row), nil
}

// List returns every registration, active or not.
func (r *Registry) List(ctx context.Context) ([]Config, error) {
	rows, err := r.repo.ListCorporations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing corporations: %w", err)
	}
	return fromRows(rows), nil
}

// ListActive returns the snapshot handed to Validate.
func (r *Registry) ListActive(ctx context.Context) ([]Config, error) {
	rows, err := r.repo.ListActiveCorporations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active corporations: %w", err)
	}
	return fromRows(rows), nil
}

// TouchTokenRefresh records that a member of corporationID refreshed an ESI token at.
func (r *Registry) TouchTokenRefresh(ctx context.Context, corporationID int64, at time.Time) error {
	if err := r.repo.TouchCorporationTokenRefresh(ctx, corporationID, at); err != nil {
		return fmt.Errorf("recording token refresh for corporation %d: %w", corporationID, err)
	}
	return nil
}

func fromRows(rows []store.Corporation) []Config {
	out := make([]Config, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out
}

func fromRow(row store.Corporation) Config {
	c := Config{
		CorporationID:    row.ID,
		CorporationName:  row.Name,
		RegisteredScopes: strings.Fields(row.RegisteredScopes),
		IsActive:         row.IsActive,
		AutoRegistered:   row.AutoRegistered,
		RegistrationDate: row.RegistrationDate,
	}
	if row.LastTokenRefresh.Valid {
		c.LastTokenRefresh = row.LastTokenRefresh.Time
	}
	return c
}
