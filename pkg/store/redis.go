package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtorch/pkg/util"
)

// scanCountHint is the SCAN COUNT hint, not a hard limit.
const scanCountHint = 100

// Redis is a Store backed by the switch's Redis databases.
// One client is kept per database number.
type Redis struct {
	addr     string
	password string

	mu      sync.Mutex
	clients map[DB]*redis.Client
}

// NewRedis creates a Redis store for addr ("127.0.0.1:6379").
// Connections are opened lazily per database.
func NewRedis(addr, password string) *Redis {
	return &Redis{
		addr:     addr,
		password: password,
		clients:  make(map[DB]*redis.Client),
	}
}

func (r *Redis) client(db DB) *redis.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[db]
	if !ok {
		c = redis.NewClient(&redis.Options{
			Addr:     r.addr,
			Password: r.password,
			DB:       int(db),
		})
		r.clients[db] = c
	}
	return c
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, db DB, table, key string) (map[string]string, error) {
	vals, err := r.client(db).HGetAll(ctx, RedisKey(db, table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s %s: %w", db, RedisKey(db, table, key), err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

// Set writes all fields in a single HSET so that exactly one keyspace
// notification fires and readers never observe a partial entry.
func (r *Redis) Set(ctx context.Context, db DB, table, key string, fields map[string]string) error {
	redisKey := RedisKey(db, table, key)
	if err := r.client(db).HSet(ctx, redisKey, hsetArgs(fields)...).Err(); err != nil {
		return fmt.Errorf("hset %s %s: %w", db, redisKey, err)
	}
	return nil
}

func hsetArgs(fields map[string]string) []interface{} {
	if len(fields) == 0 {
		return []interface{}{NullField, NullField}
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, db DB, table, key string) error {
	redisKey := RedisKey(db, table, key)
	if err := r.client(db).Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("del %s %s: %w", db, redisKey, err)
	}
	return nil
}

// DeleteFields implements Store.
func (r *Redis) DeleteFields(ctx context.Context, db DB, table, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	redisKey := RedisKey(db, table, key)
	if err := r.client(db).HDel(ctx, redisKey, fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s %s: %w", db, redisKey, err)
	}
	return nil
}

// Keys implements Store using cursor-based SCAN instead of the blocking
// O(N) KEYS command.
func (r *Redis) Keys(ctx context.Context, db DB, table string) ([]string, error) {
	prefix := table + db.Separator()
	redisKeys, err := scanKeys(ctx, r.client(db), prefix+"*", scanCountHint)
	if err != nil {
		return nil, fmt.Errorf("scan %s %s: %w", db, table, err)
	}
	keys := make([]string, 0, len(redisKeys))
	for _, k := range redisKeys {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

// Apply writes the batch via a MULTI/EXEC pipeline: either all changes
// succeed or none do.
func (r *Redis) Apply(ctx context.Context, db DB, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	pipe := r.client(db).TxPipeline()
	for _, c := range changes {
		redisKey := RedisKey(db, c.Table, c.Key)
		if c.Fields == nil {
			pipe.Del(ctx, redisKey)
		} else {
			pipe.HSet(ctx, redisKey, hsetArgs(c.Fields)...)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec %s: %w", db, err)
	}
	return nil
}

// Subscribe implements Store with keyspace notifications. The pattern
// subscription is established before the snapshot scan so that no change
// is lost between the two; a change seen by both is delivered twice.
func (r *Redis) Subscribe(ctx context.Context, db DB, table string) (<-chan Event, error) {
	c := r.client(db)
	if err := c.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		util.WithField("db", db.String()).Warnf("Cannot enable keyspace notifications: %v", err)
	}

	channelPrefix := fmt.Sprintf("__keyspace@%d__:", int(db))
	pubsub := c.PSubscribe(ctx, channelPrefix+table+db.Separator()+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("psubscribe %s %s: %w", db, table, err)
	}

	keys, err := r.Keys(ctx, db, table)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	f := newFeed()
	for _, k := range keys {
		fields, err := r.Get(ctx, db, table, k)
		if err != nil {
			pubsub.Close()
			return nil, err
		}
		if fields != nil {
			f.push(Event{DB: db, Table: table, Key: k, Fields: fields})
		}
	}

	go func() {
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				redisKey := strings.TrimPrefix(msg.Channel, channelPrefix)
				_, key := SplitRedisKey(db, redisKey)
				fields, err := r.Get(ctx, db, table, key)
				if err != nil {
					if ctx.Err() == nil {
						util.WithField("db", db.String()).Warnf("Dropping notification for %s: %v", redisKey, err)
					}
					continue
				}
				f.push(Event{DB: db, Table: table, Key: key, Fields: fields})
			}
		}
	}()
	go f.run(ctx, func() { pubsub.Close() })

	return f.out, nil
}

// Ping implements Store.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client(ConfigDB).Ping(ctx).Err()
}

// Close closes every database connection.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for db, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.clients, db)
	}
	return firstErr
}

// scanKeys iterates Redis keys matching the given pattern using SCAN.
// The count hint controls how many keys Redis returns per iteration.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
