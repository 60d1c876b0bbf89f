// Package cache keeps upstream results behind independently tunable TTL windows.
//
// Every class has its own expiry. An entry that outlives its window is not
// discarded: it moves to a stale shadow store and stays readable through
// GetStale until fresher data replaces it or the process restarts.
package cache

import (
	"sync"
	"time"
)

// Class is a named cache partition with its own expiry duration.
type Class string

const (
	ClassFloor      Class = "floor"
	ClassBackdrop   Class = "backdrop"
	ClassComputed   Class = "computed"
	ClassExchange   Class = "exchange"
	ClassCredential Class = "credential"
	ClassMarket     Class = "market"
)

// DefaultTTLs 各缓存分区的默认有效期
var DefaultTTLs = map[Class]time.Duration{
	ClassFloor:      600 * time.Second,
	ClassBackdrop:   600 * time.Second,
	ClassComputed:   300 * time.Second,
	ClassExchange:   120 * time.Second,
	ClassCredential: 900 * time.Second,
	ClassMarket:     60 * time.Second,
}

// fallbackTTL applies to classes that were never configured.
const fallbackTTL = 300 * time.Second

type Entry struct {
	Value      interface{}
	InsertedAt time.Time
	Class      Class
}

type Manager struct {
	mu    sync.Mutex
	ttls  map[Class]time.Duration
	fresh map[Class]map[string]Entry
	stale map[Class]map[string]Entry
	now   func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTTL(class Class, ttl time.Duration) Option {
	return func(m *Manager) { m.ttls[class] = ttl }
}

func New(opts ...Option) *Manager {
	m := &Manager{
		ttls:  make(map[Class]time.Duration, len(DefaultTTLs)),
		fresh: make(map[Class]map[string]Entry),
		stale: make(map[Class]map[string]Entry),
		now:   time.Now,
	}
	for class, ttl := range DefaultTTLs {
		m.ttls[class] = ttl
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the expiry window of a class.
func (m *Manager) TTL(class Class) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttlLocked(class)
}

func (m *Manager) ttlLocked(class Class) time.Duration {
	if ttl, ok := m.ttls[class]; ok {
		return ttl
	}
	return fallbackTTL
}

func (m *Manager) expiredLocked(e Entry, now time.Time) bool {
	return now.Sub(e.InsertedAt) >= m.ttlLocked(e.Class)
}

// Get returns the value only while it is fresh. An expired entry is moved to
// the stale shadow store and reported as absent.
func (m *Manager) Get(class Class, key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.fresh[class]
	e, ok := bucket[key]
	if !ok {
		return nil, false
	}
	if m.expiredLocked(e, m.now()) {
		delete(bucket, key)
		m.shadowLocked(class)[key] = e
		return nil, false
	}
	return e.Value, true
}

// Set stores the value with the current timestamp and drops any stale copy of the key.
func (m *Manager) Set(class Class, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(class, key, value, m.now())
}

// SetMany stores every pair in one critical section so readers never see a
// partially applied batch.
func (m *Manager) SetMany(class Class, values map[string]interface{}) {
	if len(values) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, value := range values {
		m.setLocked(class, key, value, now)
	}
}

func (m *Manager) setLocked(class Class, key string, value interface{}, now time.Time) {
	bucket, ok := m.fresh[class]
	if !ok {
		bucket = make(map[string]Entry)
		m.fresh[class] = bucket
	}
	bucket[key] = Entry{Value: value, InsertedAt: now, Class: class}
	if shadow, ok := m.stale[class]; ok {
		delete(shadow, key)
	}
}

// GetStale returns the last known value regardless of freshness. Callers use
// it only after an attempted refresh failed.
func (m *Manager) GetStale(class Class, key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.fresh[class][key]; ok {
		return e.Value, true
	}
	if e, ok := m.stale[class][key]; ok {
		return e.Value, true
	}
	return nil, false
}

// SweepExpired moves every expired fresh entry into the shadow store and
// returns how many moved.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	moved := 0
	for class, bucket := range m.fresh {
		for key, e := range bucket {
			if !m.expiredLocked(e, now) {
				continue
			}
			delete(bucket, key)
			m.shadowLocked(class)[key] = e
			moved++
		}
	}
	return moved
}

func (m *Manager) shadowLocked(class Class) map[string]Entry {
	shadow, ok := m.stale[class]
	if !ok {
		shadow = make(map[string]Entry)
		m.stale[class] = shadow
	}
	return shadow
}

// ClassStats 单个分区的统计
type ClassStats struct {
	Fresh int           `json:"fresh"`
	Stale int           `json:"stale"`
	TTL   time.Duration `json:"ttl"`
}

// Stats reports entry counts per class. Fresh counts may include entries that
// expired since the last sweep.
func (m *Manager) Stats() map[Class]ClassStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Class]ClassStats)
	for class := range m.ttls {
		out[class] = ClassStats{
			Fresh: len(m.fresh[class]),
			Stale: len(m.stale[class]),
			TTL:   m.ttlLocked(class),
		}
	}
	return out
}

// Lookup is Get with the type assertion done for the caller.
func Lookup[T any](m *Manager, class Class, key string) (T, bool) {
	var zero T
	v, ok := m.Get(class, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// LookupStale is GetStale with the type assertion done for the caller.
func LookupStale[T any](m *Manager, class Class, key string) (T, bool) {
	var zero T
	v, ok := m.GetStale(class, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
