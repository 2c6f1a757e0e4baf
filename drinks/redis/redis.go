// Package redis provides a Redis-backed implementation of drinks.Store.
//
// Each drink is a hash holding its title and JSON recipe. A sorted set keeps
// ids in order and a title→id hash enforces uniqueness. Create and Delete run
// as Lua scripts and Update as a WATCH/MULTI transaction so the three stay
// consistent. Every key a command touches is passed to Redis explicitly.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ggoodman/drinkshop/drinks"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis store, decoded from the environment as part of the
// process configuration.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: DRINKS_REDIS_KEY_PREFIX
	KeyPrefix string `env:"DRINKS_REDIS_KEY_PREFIX,default=drinks:"`
}

// Store implements drinks.Store on Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
	owned     bool
}

var _ drinks.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := NewWithClient(cl, cfg.KeyPrefix)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(cl *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "drinks:"
	}
	return &Store{client: cl, keyPrefix: keyPrefix}
}

// Close closes the Redis client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// --- Key helpers ---

func (s *Store) seqKey() string    { return s.keyPrefix + "seq" }
func (s *Store) idsKey() string    { return s.keyPrefix + "ids" }
func (s *Store) titlesKey() string { return s.keyPrefix + "titles" }
func (s *Store) drinkPrefix() string {
	return s.keyPrefix + "drink:"
}
func (s *Store) drinkKey(id int64) string { return s.drinkPrefix() + strconv.FormatInt(id, 10) }

// Script results below zero signal a rejected mutation.
const (
	resultDuplicate = -1
	resultNotFound  = -2
)

// maxUpdateAttempts bounds how often Update retries after a concurrent
// writer invalidated its WATCH.
const maxUpdateAttempts = 16

// createScript stores a drink under an id already taken from the sequence.
// An id burned by a duplicate title is never handed out again.
var createScript = redis.NewScript(`
local titles = KEYS[1]
local ids = KEYS[2]
local drink = KEYS[3]
if redis.call('HEXISTS', titles, ARGV[1]) == 1 then
  return -1
end
redis.call('HSET', drink, 'title', ARGV[1], 'recipe', ARGV[2])
redis.call('HSET', titles, ARGV[1], ARGV[3])
redis.call('ZADD', ids, ARGV[3], ARGV[3])
return 1
`)

var deleteScript = redis.NewScript(`
local titles = KEYS[1]
local drink = KEYS[2]
local ids = KEYS[3]
local title = redis.call('HGET', drink, 'title')
if not title then
  return -2
end
redis.call('DEL', drink)
redis.call('HDEL', titles, title)
redis.call('ZREM', ids, ARGV[1])
return 1
`)

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	if len(ids) == 0 {
		return []drinks.Drink{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.drinkPrefix()+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}

	out := make([]drinks.Drink, 0, len(ids))
	for i, cmd := range cmds {
		id, err := strconv.ParseInt(ids[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt id %q: %w", ids[i], err)
		}
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between ZRANGE and HGETALL.
			continue
		}
		d, err := decode(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (drinks.Drink, error) {
	fields, err := s.client.HGetAll(ctx, s.drinkKey(id)).Result()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("get drink %d: %w", id, err)
	}
	if len(fields) == 0 {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return decode(id, fields)
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	d, err := drinks.Prepare(d)
	if err != nil {
		return drinks.Drink{}, err
	}
	recipe, err := json.Marshal(d.Recipe)
	if err != nil {
		return drinks.Drink{}, err
	}
	// Skip burning an id when the title is already taken. The script checks
	// again atomically.
	taken, err := s.client.HExists(ctx, s.titlesKey(), d.Title).Result()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("create drink: %w", err)
	}
	if taken {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, d.Title)
	}
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("allocate drink id: %w", err)
	}
	keys := []string{s.titlesKey(), s.idsKey(), s.drinkKey(id)}
	res, err := createScript.Run(ctx, s.client, keys, d.Title, recipe, id).Int64()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("create drink: %w", err)
	}
	if res == resultDuplicate {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, d.Title)
	}
	d.ID = id
	return d, nil
}

// Update reads, patches and writes the drink inside a WATCH on the drink and
// the title index, retrying when a concurrent writer got there first.
func (s *Store) Update(ctx context.Context, id int64, p drinks.Patch) (drinks.Drink, error) {
	drinkKey := s.drinkKey(id)
	var next drinks.Drink
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, drinkKey).Result()
		if err != nil {
			return fmt.Errorf("update drink %d: %w", id, err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
		}
		cur, err := decode(id, fields)
		if err != nil {
			return err
		}
		n, err := drinks.Prepare(p.Apply(cur))
		if err != nil {
			return err
		}
		recipe, err := json.Marshal(n.Recipe)
		if err != nil {
			return err
		}
		renamed := n.Title != cur.Title
		if renamed {
			taken, err := tx.HExists(ctx, s.titlesKey(), n.Title).Result()
			if err != nil {
				return fmt.Errorf("update drink %d: %w", id, err)
			}
			if taken {
				return fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, n.Title)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if renamed {
				pipe.HDel(ctx, s.titlesKey(), cur.Title)
				pipe.HSet(ctx, s.titlesKey(), n.Title, id)
			}
			pipe.HSet(ctx, drinkKey, "title", n.Title, "recipe", recipe)
			return nil
		})
		if err != nil {
			return err
		}
		next = n
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, drinkKey, s.titlesKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return drinks.Drink{}, err
		}
		return next, nil
	}
	return drinks.Drink{}, fmt.Errorf("update drink %d: %w", id, redis.TxFailedErr)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	keys := []string{s.titlesKey(), s.drinkKey(id), s.idsKey()}
	res, err := deleteScript.Run(ctx, s.client, keys, id).Int64()
	if err != nil {
		return fmt.Errorf("delete drink %d: %w", id, err)
	}
	if res == resultNotFound {
		return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return nil
}

func decode(id int64, fields map[string]string) (drinks.Drink, error) {
	d := drinks.Drink{ID: id, Title: fields["title"]}
	if err := json.Unmarshal([]byte(fields["recipe"]), &d.Recipe); err != nil {
		return drinks.Drink{}, fmt.Errorf("decode recipe of drink %d: %w", id, err)
	}
	return d, nil
}
