package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

type countingDirectory struct {
	roles   map[string][]string
	members map[string][]string
	calls   int
	err     error
}

func (d *countingDirectory) RolesOf(_ context.Context, userID string) (workflow.RoleSet, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return workflow.NewRoleSet(d.roles[userID]...), nil
}

func (d *countingDirectory) MembersOf(_ context.Context, role string) ([]string, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.members[role], nil
}

func newCache(t *testing.T, next workflow.RoleDirectory) (*CachedRoleDirectory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCachedRoleDirectory(next, rdb, RoleCacheTTL{Roles: time.Minute, Members: time.Minute}, zerolog.Nop()), mr
}

func TestCachedRoleDirectory_RolesOf(t *testing.T) {
	next := &countingDirectory{roles: map[string][]string{"u-ba": {"Budget", "Accounting"}}}
	cache, mr := newCache(t, next)
	ctx := context.Background()

	first, err := cache.RolesOf(ctx, "u-ba")
	require.NoError(t, err)
	second, err := cache.RolesOf(ctx, "u-ba")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, second.Has("Budget"))
	assert.Equal(t, 1, next.calls)
	assert.True(t, mr.Exists("approvals:roles:user:u-ba"))

	mr.FastForward(2 * time.Minute)
	_, err = cache.RolesOf(ctx, "u-ba")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedRoleDirectory_MembersOf(t *testing.T) {
	next := &countingDirectory{members: map[string][]string{"Cashier": {"u-1", "u-2"}}}
	cache, _ := newCache(t, next)
	ctx := context.Background()

	for range 3 {
		members, err := cache.MembersOf(ctx, "Cashier")
		require.NoError(t, err)
		assert.Equal(t, []string{"u-1", "u-2"}, members)
	}
	assert.Equal(t, 1, next.calls)

	empty, err := cache.MembersOf(ctx, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
	_, err = cache.MembersOf(ctx, "Nobody")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls, "empty membership is cached too")
}

func TestCachedRoleDirectory_Invalidate(t *testing.T) {
	next := &countingDirectory{
		roles:   map[string][]string{"u-1": {"Cashier"}},
		members: map[string][]string{"Cashier": {"u-1"}},
	}
	cache, mr := newCache(t, next)
	ctx := context.Background()

	_, _ = cache.RolesOf(ctx, "u-1")
	_, _ = cache.MembersOf(ctx, "Cashier")
	require.NoError(t, cache.Invalidate(ctx, "u-1", "Cashier"))

	assert.False(t, mr.Exists("approvals:roles:user:u-1"))
	assert.False(t, mr.Exists("approvals:roles:members:Cashier"))
}

func TestCachedRoleDirectory_DefaultTTLs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	next := &countingDirectory{
		roles:   map[string][]string{"u-1": {"Cashier"}},
		members: map[string][]string{"Cashier": {"u-1"}},
	}
	cache := NewCachedRoleDirectory(next, rdb, RoleCacheTTL{}, zerolog.Nop())
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, "u-1")
	require.NoError(t, err)
	_, err = cache.MembersOf(ctx, "Cashier")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("approvals:roles:user:u-1"))
	assert.Equal(t, 5*time.Minute, mr.TTL("approvals:roles:members:Cashier"))
}

func TestCachedRoleDirectory_RevokedRoleStopsAuthorizingOnChangeEvent(t *testing.T) {
	next := &countingDirectory{
		roles:   map[string][]string{"u-1": {"Cashier"}},
		members: map[string][]string{"Cashier": {"u-1"}},
	}
	cache, _ := newCache(t, next)
	ctx := context.Background()

	roles, err := cache.RolesOf(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, roles.Has("Cashier"))
	_, err = cache.MembersOf(ctx, "Cashier")
	require.NoError(t, err)

	next.roles["u-1"] = nil
	next.members["Cashier"] = nil
	require.NoError(t, cache.HandleRoleChange(ctx, []byte(`{"user_id":"u-1","roles":["Cashier"]}`)))

	roles, err = cache.RolesOf(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, roles.Has("Cashier"))
	members, err := cache.MembersOf(ctx, "Cashier")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCachedRoleDirectory_HandleRoleChangeRejectsBadEvents(t *testing.T) {
	cache, _ := newCache(t, &countingDirectory{})
	ctx := context.Background()

	assert.Error(t, cache.HandleRoleChange(ctx, []byte(`{"user_id":`)))
	assert.Error(t, cache.HandleRoleChange(ctx, []byte(`{"roles":["Budget"]}`)))
}

func TestCachedRoleDirectory_RedisDown(t *testing.T) {
	next := &countingDirectory{roles: map[string][]string{"u-1": {"Chief"}}}
	cache, mr := newCache(t, next)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	roles, err := cache.RolesOf(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, roles.Has("Chief"))
}

func TestCachedRoleDirectory_SourceError(t *testing.T) {
	next := &countingDirectory{err: errors.New("db down")}
	cache, mr := newCache(t, next)

	_, err := cache.RolesOf(context.Background(), "u-1")
	assert.EqualError(t, err, "db down")
	assert.False(t, mr.Exists("approvals:roles:user:u-1"))
}
