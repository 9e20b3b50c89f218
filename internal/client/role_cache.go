package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const (
	defaultRolesTTL   = 30 * time.Second
	defaultMembersTTL = 5 * time.Minute
)

// RoleCacheTTL sets entry lifetimes. Roles also bounds how long a revoked
// role keeps authorizing transitions when no change event arrives.
type RoleCacheTTL struct {
	Roles   time.Duration
	Members time.Duration
}

// CachedRoleDirectory serves role lookups from Redis and falls back to the
// wrapped directory on a miss. A Redis outage degrades to uncached reads.
type CachedRoleDirectory struct {
	next   workflow.RoleDirectory
	client redis.Cmdable
	prefix string
	ttl    RoleCacheTTL
	log    zerolog.Logger
}

// NewCachedRoleDirectory wraps next. Zero TTLs mean 30s for a user's roles
// and five minutes for role members.
func NewCachedRoleDirectory(next workflow.RoleDirectory, client redis.Cmdable, ttl RoleCacheTTL, log zerolog.Logger) *CachedRoleDirectory {
	if ttl.Roles <= 0 {
		ttl.Roles = defaultRolesTTL
	}
	if ttl.Members <= 0 {
		ttl.Members = defaultMembersTTL
	}
	return &CachedRoleDirectory{
		next:   next,
		client: client,
		prefix: "approvals:roles",
		ttl:    ttl,
		log:    log,
	}
}

func (c *CachedRoleDirectory) userKey(userID string) string {
	return c.prefix + ":user:" + userID
}

func (c *CachedRoleDirectory) roleKey(role string) string {
	return c.prefix + ":members:" + role
}

// RolesOf returns the user's roles, cached for the roles TTL.
func (c *CachedRoleDirectory) RolesOf(ctx context.Context, userID string) (workflow.RoleSet, error) {
	key := c.userKey(userID)
	if roles, ok := c.lookup(ctx, key); ok {
		return workflow.NewRoleSet(roles...), nil
	}

	set, err := c.next.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, set.Sorted(), c.ttl.Roles)
	return set, nil
}

// MembersOf returns the role's members, cached for the members TTL.
func (c *CachedRoleDirectory) MembersOf(ctx context.Context, role string) ([]string, error) {
	key := c.roleKey(role)
	if members, ok := c.lookup(ctx, key); ok {
		return members, nil
	}

	members, err := c.next.MembersOf(ctx, role)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, members, c.ttl.Members)
	return members, nil
}

// Invalidate drops cached entries for a user and the given roles, for use
// after a membership change.
func (c *CachedRoleDirectory) Invalidate(ctx context.Context, userID string, roles ...string) error {
	keys := []string{c.userKey(userID)}
	for _, r := range roles {
		keys = append(keys, c.roleKey(r))
	}
	return c.client.Del(ctx, keys...).Err()
}

// RoleChangeEvent is published by the identity service when a user's roles
// change. Roles lists every role granted or revoked.
type RoleChangeEvent struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// HandleRoleChange invalidates the entries a RoleChangeEvent affects.
func (c *CachedRoleDirectory) HandleRoleChange(ctx context.Context, data []byte) error {
	var ev RoleChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode role change event: %w", err)
	}
	if ev.UserID == "" {
		return stderrors.New("role change event without user_id")
	}
	if err := c.Invalidate(ctx, ev.UserID, ev.Roles...); err != nil {
		return fmt.Errorf("invalidate roles of %s: %w", ev.UserID, err)
	}
	c.log.Debug().Str("user_id", ev.UserID).Strs("roles", ev.Roles).Msg("Role cache invalidated")
	return nil
}

func (c *CachedRoleDirectory) lookup(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Role cache read failed")
		}
		return nil, false
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Role cache entry is corrupt")
		return nil, false
	}
	return values, true
}

func (c *CachedRoleDirectory) store(ctx context.Context, key string, values []string, ttl time.Duration) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Role cache write failed")
	}
}

var _ workflow.RoleDirectory = (*CachedRoleDirectory)(nil)
