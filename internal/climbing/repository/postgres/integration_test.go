package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cragcoach/internal/climbing"
	"cragcoach/internal/testutil"
)

func TestRepositoryAgainstPostgres(t *testing.T) {
	db := testutil.NewPostgres(t)

	repo, err := New(db.Pool)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	db.Exec(t, `INSERT INTO ticks (user_id, tick_date, route_name, grade) VALUES ('7', '2024-03-02', 'Roof', 'V6')`)

	ticks, err := repo.FetchTicksSince(ctx, "7", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []climbing.Tick{{Date: "2024-03-02", RouteName: "Roof", Grade: "V6"}}, ticks)

	profile, err := repo.FetchProfile(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, profile)

	users, err := repo.ListActiveUsers(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []climbing.UserID{"7"}, users)
}
