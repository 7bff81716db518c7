package serverstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/liverelay/internal/logx"
)

// DefaultRedisKey holds the JSON encoded State.
const DefaultRedisKey = "liverelay:state"

const redisOpTimeout = 2 * time.Second

type redisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore connects to addr, which is either host:port or a
// redis://, rediss://, redis-sentinel:// or rediss-sentinel:// URL, and
// seeds key with the not_ready status when it is absent.
func NewRedisStore(ctx context.Context, addr, key string) (Store, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultRedisKey
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b, _ := json.Marshal(State{Status: StatusNotReady})
	if err := c.SetNX(ctx, key, b, 0).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis seed state: %w", err)
	}
	return &redisStore{client: c, key: key}, nil
}

func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	q := u.Query()
	path := strings.TrimPrefix(u.Path, "/")

	dbStr := q.Get("db")
	switch u.Scheme {
	case "redis", "rediss":
		if path != "" {
			dbStr = path
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = path
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db %q: %w", dbStr, err)
		}
		opts.DB = db
	}
	if strings.HasPrefix(u.Scheme, "rediss") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func (r *redisStore) Load() State {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{Status: StatusNotReady}
	}
	if err != nil {
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("redis state load failed")
		return State{Status: StatusUnknown}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: StatusUnknown}
	}
	return st
}

func (r *redisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("redis state store failed")
	}
}

// Close releases the Redis client.
func (r *redisStore) Close() error { return r.client.Close() }
