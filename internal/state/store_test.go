package state

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/worldclone/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	_, err := openStore(t).Get(context.Background(), "design_alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutReplaces(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	first := Settings{
		Rules:     map[string]any{"doDaylightCycle": false, "keepInventory": true},
		TimeOfDay: 6000,
		Border:    Border{CenterX: 100, CenterZ: -40, Size: 1200, WarningDistance: 5, WarningTimeSeconds: 15},
		PreparedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.Put(ctx, "design_alice", first))

	got, err := s.Get(ctx, "design_alice")
	require.NoError(t, err)
	assert.Equal(t, first.Border, got.Border)
	assert.Equal(t, 6000, got.TimeOfDay)
	assert.Equal(t, false, got.Rules["doDaylightCycle"])
	assert.True(t, first.PreparedAt.Equal(got.PreparedAt))

	require.NoError(t, s.Put(ctx, "design_alice", Settings{TimeOfDay: 18000}))
	got, err = s.Get(ctx, "design_alice")
	require.NoError(t, err)
	assert.Equal(t, 18000, got.TimeOfDay)
	assert.Empty(t, got.Rules)
	assert.Zero(t, got.Border)
}

func TestStore_SizeLimit(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	big := Settings{Rules: map[string]any{"motd": strings.Repeat("a", maxEncoded)}}
	assert.Error(t, s.Put(context.Background(), "design_alice", big))
}

func TestStore_EmptyIdentity(t *testing.T) {
	t.Parallel()
	assert.Error(t, openStore(t).Put(context.Background(), "", Settings{}))
}
