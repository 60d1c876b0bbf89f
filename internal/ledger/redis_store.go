package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gift-pricer/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each token in a hash. Hashes expire on their own once the
// retention window after the token's expiry has passed.
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:       rdb,
		prefix:    "ledger",
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) tokenKey(token string) string {
	return s.prefix + ":token:" + token
}

func (s *RedisStore) identityKey(identity int64) string {
	return s.prefix + ":identity:" + strconv.FormatInt(identity, 10)
}

func (s *RedisStore) activeKey() string {
	return s.prefix + ":active"
}

// issueRetries bounds how often Issue retries after a concurrent write to
// the identity index.
const issueRetries = 8

// Issue watches the identity index so that two concurrent issues for one
// identity cannot both stay active: the loser retries and deactivates the winner.
func (s *RedisStore) Issue(ctx context.Context, tok models.AccessToken) error {
	idKey := s.identityKey(tok.Identity)

	txf := func(tx *redis.Tx) error {
		previous, err := tx.Get(ctx, idKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read identity index: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != "" && previous != tok.Token {
				pipe.HSet(ctx, s.tokenKey(previous), "active", "0")
				pipe.SRem(ctx, s.activeKey(), previous)
			}
			key := s.tokenKey(tok.Token)
			pipe.HSet(ctx, key, encodeToken(tok))
			pipe.ExpireAt(ctx, key, tok.ExpiresAt.Add(s.retention))
			pipe.Set(ctx, idKey, tok.Token, time.Until(tok.ExpiresAt.Add(s.retention)))
			pipe.SAdd(ctx, s.activeKey(), tok.Token)
			return nil
		})
		return err
	}

	for i := 0; i < issueRetries; i++ {
		err := s.rdb.Watch(ctx, txf, idKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		return nil
	}
	return fmt.Errorf("issue token: %w", redis.TxFailedErr)
}

func (s *RedisStore) UpdateCount(ctx context.Context, token string, count int) error {
	n, err := s.rdb.Exists(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return fmt.Errorf("update count: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.rdb.HSet(ctx, s.tokenKey(token), "request_count", count).Err()
}

func (s *RedisStore) Deactivate(ctx context.Context, token string) error {
	n, err := s.rdb.Exists(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	if n == 0 {
		s.rdb.SRem(ctx, s.activeKey(), token)
		return ErrNotFound
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tokenKey(token), "active", "0")
		pipe.SRem(ctx, s.activeKey(), token)
		return nil
	})
	return err
}

func (s *RedisStore) load(ctx context.Context, token string) (models.AccessToken, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("load token: %w", err)
	}
	if len(fields) == 0 {
		return models.AccessToken{}, ErrNotFound
	}
	return decodeToken(fields)
}

func (s *RedisStore) FindActive(ctx context.Context, identity int64) (models.AccessToken, error) {
	token, err := s.rdb.Get(ctx, s.identityKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return models.AccessToken{}, ErrNotFound
	}
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("read identity index: %w", err)
	}
	tok, err := s.load(ctx, token)
	if err != nil {
		return tok, err
	}
	if !tok.Active {
		return models.AccessToken{}, ErrNotFound
	}
	return tok, nil
}

func (s *RedisStore) ListActive(ctx context.Context, now time.Time) ([]models.AccessToken, error) {
	tokens, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	out := make([]models.AccessToken, 0, len(tokens))
	for _, t := range tokens {
		tok, err := s.load(ctx, t)
		if errors.Is(err, ErrNotFound) {
			s.rdb.SRem(ctx, s.activeKey(), t)
			continue
		}
		if err != nil {
			return out, err
		}
		if tok.Active && !tok.Expired(now) {
			out = append(out, tok)
		}
	}
	return out, nil
}

// Sweep deactivates expired members of the active set. Old hashes are removed
// by their own expiry, so deleted counts only hashes that already vanished.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time, _ time.Duration) (int64, int64, error) {
	tokens, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("sweep: %w", err)
	}
	var deactivated, deleted int64
	for _, t := range tokens {
		tok, err := s.load(ctx, t)
		if errors.Is(err, ErrNotFound) {
			s.rdb.SRem(ctx, s.activeKey(), t)
			deleted++
			continue
		}
		if err != nil {
			return deactivated, deleted, err
		}
		if tok.Expired(now) {
			if err := s.Deactivate(ctx, t); err != nil {
				return deactivated, deleted, err
			}
			deactivated++
		}
	}
	return deactivated, deleted, nil
}

func encodeToken(tok models.AccessToken) map[string]interface{} {
	return map[string]interface{}{
		"identity":      tok.Identity,
		"token":         tok.Token,
		"request_count": tok.RequestCount,
		"max_requests":  tok.MaxRequests,
		"subscribed":    boolField(tok.Subscribed),
		"issued_at":     tok.IssuedAt.UnixNano(),
		"expires_at":    tok.ExpiresAt.UnixNano(),
		"active":        boolField(tok.Active),
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeToken(f map[string]string) (models.AccessToken, error) {
	var (
		tok models.AccessToken
		err error
	)
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			err = fmt.Errorf("field %s: %w", name, err)
		}
		return v
	}
	tok.Identity = parseInt("identity")
	tok.RequestCount = int(parseInt("request_count"))
	tok.MaxRequests = int(parseInt("max_requests"))
	tok.IssuedAt = time.Unix(0, parseInt("issued_at"))
	tok.ExpiresAt = time.Unix(0, parseInt("expires_at"))
	tok.Token = f["token"]
	tok.Subscribed = f["subscribed"] == "1"
	tok.Active = f["active"] == "1"
	return tok, err
}
