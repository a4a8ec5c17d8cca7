package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dpleshakov/corpsso/internal/esi"
	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/roles"
	"github.com/dpleshakov/corpsso/internal/sso"
)

// Verifier resolves the character behind an access token.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (sso.Verification, error)
}

// Resolver turns an access token into a character identity and its
// corporation roles.
type Resolver struct {
	verifier Verifier
	esi      esi.Client
	logger   *zap.Logger
}

func NewResolver(v Verifier, c esi.Client, logger *zap.Logger) *Resolver {
	return &Resolver{verifier: v, esi: c, logger: logging.OrNop(logger).Named("resolver")}
}

// ResolveIdentity verifies the token and loads the character's corporation
// and alliance. Name lookups are best-effort and run concurrently.
func (r *Resolver) ResolveIdentity(ctx context.Context, accessToken string) (identity.Character, error) {
	v, err := r.verifier.Verify(ctx, accessToken)
	if err != nil {
		return identity.Character{}, fmt.Errorf("verifying token: %w", err)
	}

	ch, err := r.esi.GetCharacter(ctx, v.CharacterID, accessToken)
	if err != nil {
		return identity.Character{}, err
	}

	who := identity.Character{
		CharacterID:     v.CharacterID,
		CharacterName:   v.CharacterName,
		CorporationID:   ch.CorporationID,
		CorporationName: identity.UnknownCorporation,
		AllianceID:      ch.AllianceID,
		Scopes:          v.Scopes,
	}
	if who.CharacterName == "" {
		who.CharacterName = ch.Name
	}

	var g errgroup.Group
	g.Go(func() error {
		corp, err := r.esi.GetCorporation(ctx, who.CorporationID)
		if err != nil {
			return fmt.Errorf("corporation %d: %w", who.CorporationID, err)
		}
		who.CorporationName = corp.Name
		who.CEOID = corp.CEOID
		return nil
	})
	if who.AllianceID != 0 {
		g.Go(func() error {
			all, err := r.esi.GetAlliance(ctx, who.AllianceID)
			if err != nil {
				return fmt.Errorf("alliance %d: %w", who.AllianceID, err)
			}
			who.AllianceName = all.Name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("name lookup failed, using placeholders",
			zap.Int64("character_id", who.CharacterID), zap.Error(err))
	}

	return who, nil
}

// ResolveRoles returns the corporation roles of who. Any failure yields an
// empty list. CEO is added when who runs the corporation.
func (r *Resolver) ResolveRoles(ctx context.Context, who identity.Character, accessToken string) []string {
	out, err := r.esi.GetCharacterRoles(ctx, who.CharacterID, accessToken)
	if err != nil {
		r.logger.Warn("role lookup failed, treating as member",
			zap.Int64("character_id", who.CharacterID), zap.Error(err))
		return []string{}
	}
	if who.CEOID != 0 && who.CEOID == who.CharacterID {
		out = append(out, roles.EveCEO)
	}
	if out == nil {
		out = []string{}
	}
	return out
}
