package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// redisOpenScript creates or joins a session atomically.
// KEYS[1] = session hash key
// KEYS[2] = involved-domain set key
// KEYS[3] = active index set key
// ARGV[1] = orchestration id
// ARGV[2] = domain
// ARGV[3] = started_at (RFC3339Nano)
// ARGV[4] = context JSON
// Returns 1 when a fresh session was created, 0 when an active one was joined.
var redisOpenScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == "active" then
    redis.call("SADD", KEYS[2], ARGV[2])
    return 0
end

redis.call("DEL", KEYS[1], KEYS[2])
redis.call("HSET", KEYS[1],
    "orchestration_id", ARGV[1],
    "initiated_by", ARGV[2],
    "started_at", ARGV[3],
    "status", "active",
    "context", ARGV[4])
redis.call("SADD", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// redisCompleteScript guards the one-way terminal transition.
// KEYS[1] = session hash key
// KEYS[2] = involved-domain set key
// KEYS[3] = active index set key
// ARGV[1] = orchestration id
// ARGV[2] = terminal status
// ARGV[3] = retention TTL in seconds (0 keeps the session forever)
// Returns 1 on transition, 0 when already terminal, -1 when unknown.
var redisCompleteScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
    return -1
end
if status ~= "active" then
    return 0
end

redis.call("HSET", KEYS[1], "status", ARGV[2])
redis.call("SREM", KEYS[3], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
    redis.call("EXPIRE", KEYS[2], ttl)
end
return 1
`)

// RedisStore keeps coordination sessions in Redis: a hash per orchestration
// id, a set for its involved domains, and a set indexing the active ids.
// Terminal sessions stay readable for the retention TTL.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRetention sets how long terminal sessions remain readable.
// Zero keeps them until an explicit Clear.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = d
	}
}

// NewRedisStore creates a session store backed by Redis with a 24h terminal
// retention.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string        { return fmt.Sprintf("session:%s", id) }
func sessionDomainsKey(id string) string { return fmt.Sprintf("session:%s:domains", id) }

const activeIndexKey = "sessions:active"

func (s *RedisStore) Open(ctx context.Context, orchestrationID string, domain orchestra.Domain, ec *orchestra.ExecutionContext) (bool, error) {
	ctxJSON, err := json.Marshal(ec.Clone())
	if err != nil {
		return false, fmt.Errorf("redis session store: encode context: %w", err)
	}

	keys := []string{sessionKey(orchestrationID), sessionDomainsKey(orchestrationID), activeIndexKey}
	res, err := redisOpenScript.Run(ctx, s.client, keys,
		orchestrationID,
		string(domain),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(ctxJSON),
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis session store: open: %w", err)
	}

	created, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis session store: unexpected open reply %T", res)
	}
	return created == 1, nil
}

func (s *RedisStore) Complete(ctx context.Context, orchestrationID string, status SessionStatus) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("completion status must be terminal")
	}

	keys := []string{sessionKey(orchestrationID), sessionDomainsKey(orchestrationID), activeIndexKey}
	res, err := redisCompleteScript.Run(ctx, s.client, keys,
		orchestrationID,
		string(status),
		int64(s.retention/time.Second),
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis session store: complete: %w", err)
	}

	outcome, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis session store: unexpected complete reply %T", res)
	}
	switch outcome {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrSessionNotFound
	}
}

func (s *RedisStore) Get(ctx context.Context, orchestrationID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(orchestrationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session store: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	domains, err := s.client.SMembers(ctx, sessionDomainsKey(orchestrationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session store: get domains: %w", err)
	}

	return decodeSession(fields, domains)
}

func (s *RedisStore) ListActive(ctx context.Context) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session store: list active: %w", err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// Index entry outlived an expired session.
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Status == SessionActive {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "session:*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis session store: clear scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis session store: clear delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s.client.Del(ctx, activeIndexKey).Err()
}

func decodeSession(fields map[string]string, domains []string) (*Session, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("redis session store: decode started_at: %w", err)
	}

	var ec orchestra.ExecutionContext
	if raw := fields["context"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &ec); err != nil {
			return nil, fmt.Errorf("redis session store: decode context: %w", err)
		}
	}

	sort.Strings(domains)
	involved := make([]orchestra.Domain, 0, len(domains))
	for _, d := range domains {
		involved = append(involved, orchestra.Domain(d))
	}

	return &Session{
		OrchestrationID: fields["orchestration_id"],
		InitiatedBy:     orchestra.Domain(fields["initiated_by"]),
		InvolvedDomains: involved,
		StartedAt:       startedAt,
		Status:          SessionStatus(fields["status"]),
		Context:         &ec,
	}, nil
}
