package corp

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpleshakov/corpsso/internal/db"
	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	s := store.NewStore(conn)
	r := NewRegistry(s, nil)
	r.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }
	return r, s
}

func TestRegistry_RegisterAndList(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	c, err := r.Register(ctx, 100, "Alpha", []string{"publicData", "esi-x.v1"})
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.False(t, c.AutoRegistered)
	assert.Equal(t, []string{"publicData", "esi-x.v1"}, c.RegisteredScopes)

	_, err = r.Register(ctx, 0, "Bad", nil)
	assert.Error(t, err)
	_, err = r.Register(ctx, 5, " ", nil)
	assert.Error(t, err)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegistry_AutoRegisterConcurrentDuplicatesCollapse(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	who := identity.Character{CharacterID: 1, CorporationID: 200, CorporationName: "Beta"}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.AutoRegister(ctx, who, []string{"publicData"})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].AutoRegistered)
	assert.Equal(t, "Beta", all[0].CorporationName)
}

func TestRegistry_AutoRegisterKeepsInactiveRecord(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, err := r.Register(ctx, 300, "Gamma", nil)
	require.NoError(t, err)
	_, err = r.Deactivate(ctx, 300)
	require.NoError(t, err)

	c, created, err := r.AutoRegister(ctx, identity.Character{CorporationID: 300, CorporationName: "Gamma"}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, c.IsActive)
}

func TestRegistry_DeactivateEndsMemberSessions(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	_, err := r.Register(ctx, 100, "Alpha", nil)
	require.NoError(t, err)
	now := r.now()
	for i, id := range []string{"u1", "u2"} {
		_, err := s.UpsertESIUser(ctx, store.UpsertESIUserParams{
			ID: id, CharacterID: int64(1000 + i), CorporationID: 100, Role: "corp_member",
			AccessToken: "acc", SessionExpiry: now.Add(time.Hour), CreatedAt: now,
		})
		require.NoError(t, err)
	}

	ended, err := r.Deactivate(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ended)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.SessionExpiry.Valid)

	require.NoError(t, r.Activate(ctx, 100))
	active, err = r.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRegistry_UnknownCorporation(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, err := r.Deactivate(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Activate(ctx, 999), ErrNotFound)
	_, err = r.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_TouchTokenRefresh(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	_, err := r.Register(ctx, 100, "Alpha", nil)
	require.NoError(t, err)

	at := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.TouchTokenRefresh(ctx, 100, at))
	c, err := r.Get(ctx, 100)
	require.NoError(t, err)
	assert.True(t, c.LastTokenRefresh.Equal(at))
}
