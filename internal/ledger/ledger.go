// Package ledger gates privileged calls behind per-identity request quotas.
//
// The hot index in memory is authoritative for the life of the process. Every
// change is also handed to a durable Store: token issue synchronously, request
// counts and deactivations through a best-effort write-behind queue. A durable
// failure is logged and never fails the caller.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gift-pricer/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultTTL         = time.Hour
	DefaultMaxRequests = 40
	DefaultRetention   = 7 * 24 * time.Hour

	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

type opKind int

const (
	opCount opKind = iota
	opDeactivate
)

type writeOp struct {
	kind  opKind
	token string
	count int
}

// TokenInfo is the externally visible state of an identity's active token.
type TokenInfo struct {
	Token        string    `json:"token"`
	Identity     int64     `json:"identity"`
	RequestCount int       `json:"request_count"`
	MaxRequests  int       `json:"max_requests"`
	Remaining    int       `json:"requests_remaining"`
	Subscribed   bool      `json:"is_subscribed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func infoOf(t *models.AccessToken) TokenInfo {
	return TokenInfo{
		Token:        t.Token,
		Identity:     t.Identity,
		RequestCount: t.RequestCount,
		MaxRequests:  t.MaxRequests,
		Remaining:    t.Remaining(),
		Subscribed:   t.Subscribed,
		ExpiresAt:    t.ExpiresAt,
	}
}

type Stats struct {
	Tokens     int   `json:"cached_tokens"`
	Identities int   `json:"cached_identities"`
	Expired    int   `json:"expired_cached_tokens"`
	Pending    int   `json:"pending_writes"`
	Dropped    int64 `json:"dropped_writes"`
}

type Ledger struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu         sync.Mutex
	byToken    map[string]*models.AccessToken
	byIdentity map[int64]string

	queueMu sync.RWMutex
	closed  bool
	queue   chan writeOp
	done    chan struct{}
	dropped int64
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithQueueSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.queue = make(chan writeOp, n)
		}
	}
}

// New starts the write-behind worker. Call Close to drain it.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		ttl:        DefaultTTL,
		now:        time.Now,
		byToken:    make(map[string]*models.AccessToken),
		byIdentity: make(map[int64]string),
		queue:      make(chan writeOp, defaultQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.writeBehind()
	return l
}

func newTokenString(identity int64, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d_%d_%s", identity, now.UnixNano(), uuid.NewString())))
	return hex.EncodeToString(sum[:])
}

// Issue replaces any active token of identity with a fresh one.
func (l *Ledger) Issue(ctx context.Context, identity int64, maxRequests int, subscribed bool) (models.AccessToken, error) {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	now := l.now()
	tok := models.AccessToken{
		Identity:    identity,
		Token:       newTokenString(identity, now),
		MaxRequests: maxRequests,
		Subscribed:  subscribed,
		IssuedAt:    now,
		ExpiresAt:   now.Add(l.ttl),
		Active:      true,
	}

	l.mu.Lock()
	if old, ok := l.byIdentity[identity]; ok {
		delete(l.byToken, old)
	}
	entry := tok
	l.byToken[tok.Token] = &entry
	l.byIdentity[identity] = tok.Token
	l.mu.Unlock()

	if err := l.store.Issue(ctx, tok); err != nil {
		log.Printf("[ledger] 令牌持久化失败 identity=%d: %v", identity, err)
	}
	return tok, nil
}

// VerifyAndConsume charges one request against token using the hot index only.
func (l *Ledger) VerifyAndConsume(token string) (int64, bool, error) {
	now := l.now()

	l.mu.Lock()
	entry, ok := l.byToken[token]
	if !ok {
		l.mu.Unlock()
		return 0, false, ErrUnknownToken
	}
	if entry.Expired(now) {
		l.evictLocked(entry)
		l.mu.Unlock()
		l.enqueue(writeOp{kind: opDeactivate, token: token})
		return 0, false, ErrTokenExpired
	}
	if entry.RequestCount >= entry.MaxRequests {
		err := &QuotaError{Used: entry.RequestCount, Max: entry.MaxRequests}
		l.mu.Unlock()
		return 0, false, err
	}
	entry.RequestCount++
	identity, subscribed, count := entry.Identity, entry.Subscribed, entry.RequestCount
	l.mu.Unlock()

	l.enqueue(writeOp{kind: opCount, token: token, count: count})
	return identity, subscribed, nil
}

// LookupByIdentity returns the active token of identity, reading through to the
// durable store on a hot miss. Durable failures surface as ErrUnknownToken.
func (l *Ledger) LookupByIdentity(ctx context.Context, identity int64) (TokenInfo, error) {
	now := l.now()

	l.mu.Lock()
	if token, ok := l.byIdentity[identity]; ok {
		entry := l.byToken[token]
		if !entry.Expired(now) {
			info := infoOf(entry)
			l.mu.Unlock()
			return info, nil
		}
		l.evictLocked(entry)
		l.mu.Unlock()
		l.enqueue(writeOp{kind: opDeactivate, token: token})
		return TokenInfo{}, ErrTokenExpired
	}
	l.mu.Unlock()

	tok, err := l.store.FindActive(ctx, identity)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[ledger] 回源查询失败 identity=%d: %v", identity, err)
		}
		return TokenInfo{}, ErrUnknownToken
	}
	if tok.Expired(now) {
		l.enqueue(writeOp{kind: opDeactivate, token: tok.Token})
		return TokenInfo{}, ErrUnknownToken
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// an Issue that raced with the durable read wins
	if token, ok := l.byIdentity[identity]; ok {
		return infoOf(l.byToken[token]), nil
	}
	entry := tok
	l.byToken[tok.Token] = &entry
	l.byIdentity[identity] = tok.Token
	return infoOf(&entry), nil
}

func (l *Ledger) evictLocked(entry *models.AccessToken) {
	delete(l.byToken, entry.Token)
	if l.byIdentity[entry.Identity] == entry.Token {
		delete(l.byIdentity, entry.Identity)
	}
}

// Warm loads active tokens from the store into the hot index.
func (l *Ledger) Warm(ctx context.Context) (int, error) {
	toks, err := l.store.ListActive(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("warm ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	loaded := 0
	for i := range toks {
		tok := toks[i]
		if current, ok := l.byIdentity[tok.Identity]; ok {
			if !l.byToken[current].IssuedAt.Before(tok.IssuedAt) {
				continue
			}
			delete(l.byToken, current)
		} else {
			loaded++
		}
		entry := tok
		l.byToken[tok.Token] = &entry
		l.byIdentity[tok.Identity] = tok.Token
	}
	log.Printf("[ledger] 预热 %d 个令牌", loaded)
	return loaded, nil
}

// Sweep evicts expired hot entries, then cleans the durable store.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	now := l.now()

	l.mu.Lock()
	evicted := 0
	for _, entry := range l.byToken {
		if entry.Expired(now) {
			l.evictLocked(entry)
			evicted++
		}
	}
	l.mu.Unlock()

	deactivated, deleted, err := l.store.Sweep(ctx, now, DefaultRetention)
	if err != nil {
		return evicted, fmt.Errorf("sweep store: %w", err)
	}
	if evicted > 0 || deactivated > 0 || deleted > 0 {
		log.Printf("[ledger] 清理: 内存 %d, 失效 %d, 删除 %d", evicted, deactivated, deleted)
	}
	return evicted, nil
}

func (l *Ledger) Stats() Stats {
	now := l.now()
	l.mu.Lock()
	s := Stats{Tokens: len(l.byToken), Identities: len(l.byIdentity)}
	for _, entry := range l.byToken {
		if entry.Expired(now) {
			s.Expired++
		}
	}
	l.mu.Unlock()
	s.Pending = len(l.queue)
	s.Dropped = atomic.LoadInt64(&l.dropped)
	return s
}

func (l *Ledger) enqueue(op writeOp) {
	l.queueMu.RLock()
	defer l.queueMu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- op:
	default:
		atomic.AddInt64(&l.dropped, 1)
		log.Printf("[ledger] 写队列已满, 丢弃 %s", op.token)
	}
}

func (l *Ledger) writeBehind() {
	defer close(l.done)
	for op := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch op.kind {
		case opCount:
			err = l.store.UpdateCount(ctx, op.token, op.count)
		case opDeactivate:
			err = l.store.Deactivate(ctx, op.token)
		}
		cancel()
		if err != nil {
			log.Printf("[ledger] 异步写入失败 %s: %v", op.token, err)
		}
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (l *Ledger) Close() {
	l.queueMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.queueMu.Unlock()
	<-l.done
}
