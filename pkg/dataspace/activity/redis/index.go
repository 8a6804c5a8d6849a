// Package redis maintains the activity index incrementally in Redis, so
// reading it does not require replaying the audit log.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

const defaultPrefix = "dataspace:activity"

// applyScript records an event at most once. KEYS: applied set, login hash,
// last-seen zset. ARGV: handle, is-login flag, principal, occurred-at micros.
var applyScript = goredis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return 0
end
if ARGV[2] == '1' then
	redis.call('HINCRBY', KEYS[2], ARGV[3], 1)
end
redis.call('ZADD', KEYS[3], 'GT', ARGV[4], ARGV[3])
return 1
`)

// Index is an activity index kept in Redis. Applying the same event handle
// twice has no further effect.
type Index struct {
	client   *goredis.Client
	prefix   string
	addr     string
	db       int
	password string
}

// Option configures an Index
type Option func(*Index)

// WithPassword sets the Redis password
func WithPassword(password string) Option {
	return func(i *Index) {
		i.password = password
	}
}

// WithDB selects the Redis database
func WithDB(db int) Option {
	return func(i *Index) {
		i.db = db
	}
}

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(i *Index) {
		if strings.TrimSpace(prefix) != "" {
			i.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient uses an existing client
func WithClient(client *goredis.Client) Option {
	return func(i *Index) {
		if client != nil {
			i.client = client
		}
	}
}

// New connects to Redis at addr.
func New(addr string, opts ...Option) (*Index, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	i := &Index{
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = goredis.NewClient(&goredis.Options{
			Addr:     i.addr,
			Password: i.password,
			DB:       i.db,
		})
	}

	if err := i.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return i, nil
}

// Close closes the client.
func (i *Index) Close() error {
	return i.client.Close()
}

// Apply folds one event into the index.
func (i *Index) Apply(ctx context.Context, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
	if event.Actor == "" || handle == "" {
		return nil
	}
	login := "0"
	if event.Action == dataspace.ActionLogin {
		login = "1"
	}
	keys := []string{i.key("applied"), i.key("logins"), i.key("lastseen")}
	err := applyScript.Run(ctx, i.client, keys,
		string(handle), login, event.Actor, event.OccurredAt.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("failed to apply %s to activity index: %w", handle, err)
	}
	return nil
}

// Hook returns an AfterAppend hook that applies every appended event.
func (i *Index) Hook() dataspace.AfterAppendHook {
	return func(hctx *dataspace.HookContext, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
		return i.Apply(hctx.Context, handle, event)
	}
}

// Sync applies every event in source after the last synced handle and
// returns how many were read.
func (i *Index) Sync(ctx context.Context, source dataspace.EventSource) (int, error) {
	cursor, err := i.client.Get(ctx, i.key("cursor")).Result()
	if err != nil && err != goredis.Nil {
		return 0, fmt.Errorf("failed to read activity cursor: %w", err)
	}

	seq, err := source.List(ctx, dataspace.EventHandle(cursor))
	if err != nil {
		return 0, err
	}
	count := 0
	var last dataspace.EventHandle
	for handle, event := range seq {
		if err := i.Apply(ctx, handle, event); err != nil {
			return count, err
		}
		last = handle
		count++
	}
	if err := ctx.Err(); err != nil {
		return count, err
	}
	if last != "" {
		if err := i.client.Set(ctx, i.key("cursor"), string(last), 0).Err(); err != nil {
			return count, fmt.Errorf("failed to save activity cursor: %w", err)
		}
	}
	return count, nil
}

// Rebuild returns the index as a map keyed by principal.
func (i *Index) Rebuild(ctx context.Context) (map[string]dataspace.ActivityIndexEntry, error) {
	pipe := i.client.Pipeline()
	logins := pipe.HGetAll(ctx, i.key("logins"))
	seen := pipe.ZRangeWithScores(ctx, i.key("lastseen"), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("failed to read activity index: %w", err)
	}

	entries := make(map[string]dataspace.ActivityIndexEntry)
	for _, z := range seen.Val() {
		principal, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries[principal] = dataspace.ActivityIndexEntry{
			Principal: principal,
			LastSeen:  time.UnixMicro(int64(z.Score)).UTC(),
		}
	}
	for principal, raw := range logins.Val() {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		entry := entries[principal]
		entry.Principal = principal
		entry.LoginCount = n
		entries[principal] = entry
	}
	return entries, nil
}

// Entries returns the index ordered by most recent activity.
func (i *Index) Entries(ctx context.Context) ([]dataspace.ActivityIndexEntry, error) {
	index, err := i.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return dataspace.SortActivity(index), nil
}

// Reset deletes all index state.
func (i *Index) Reset(ctx context.Context) error {
	return i.client.Del(ctx, i.key("applied"), i.key("logins"), i.key("lastseen"), i.key("cursor")).Err()
}

func (i *Index) key(name string) string {
	return i.prefix + ":" + name
}
