package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gift-pricer/internal/models"

	"gorm.io/gorm"
)

// Store is the durable side of the ledger. The hot index stays authoritative;
// a Store only needs to survive restarts.
type Store interface {
	// Issue deactivates every active row of tok.Identity and inserts tok.
	Issue(ctx context.Context, tok models.AccessToken) error
	UpdateCount(ctx context.Context, token string, count int) error
	Deactivate(ctx context.Context, token string) error
	// FindActive returns the newest active row of identity or ErrNotFound.
	FindActive(ctx context.Context, identity int64) (models.AccessToken, error)
	ListActive(ctx context.Context, now time.Time) ([]models.AccessToken, error)
	// Sweep deactivates expired rows and deletes inactive rows that expired before now-retention.
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (deactivated, deleted int64, err error)
}

// GormStore keeps tokens in the user_tokens table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Issue(ctx context.Context, tok models.AccessToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AccessToken{}).
			Where("identity = ? AND active = ?", tok.Identity, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate previous tokens: %w", err)
		}
		if err := tx.Create(&tok).Error; err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

func (s *GormStore) UpdateCount(ctx context.Context, token string, count int) error {
	return s.updateByToken(ctx, token, "request_count", count)
}

func (s *GormStore) Deactivate(ctx context.Context, token string) error {
	return s.updateByToken(ctx, token, "active", false)
}

// updateByToken returns ErrNotFound when no row carries token. MySQL reports
// zero affected rows for an unchanged value too, so that case is checked with a count.
func (s *GormStore) updateByToken(ctx context.Context, token, column string, value interface{}) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.AccessToken{}).Where("token = ?", token).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", column, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(&models.AccessToken{}).Where("token = ?", token).Count(&n).Error; err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FindActive(ctx context.Context, identity int64) (models.AccessToken, error) {
	var tok models.AccessToken
	err := s.db.WithContext(ctx).
		Where("identity = ? AND active = ?", identity, true).
		Order("issued_at DESC").
		First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tok, ErrNotFound
	}
	return tok, err
}

func (s *GormStore) ListActive(ctx context.Context, now time.Time) ([]models.AccessToken, error) {
	var toks []models.AccessToken
	err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at > ?", true, now).
		Order("issued_at ASC").
		Find(&toks).Error
	return toks, err
}

func (s *GormStore) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int64, int64, error) {
	db := s.db.WithContext(ctx)

	res := db.Model(&models.AccessToken{}).
		Where("active = ? AND expires_at <= ?", true, now).
		Update("active", false)
	if res.Error != nil {
		return 0, 0, fmt.Errorf("deactivate expired tokens: %w", res.Error)
	}
	deactivated := res.RowsAffected

	res = db.Where("active = ? AND expires_at < ?", false, now.Add(-retention)).
		Delete(&models.AccessToken{})
	if res.Error != nil {
		return deactivated, 0, fmt.Errorf("delete old tokens: %w", res.Error)
	}
	return deactivated, res.RowsAffected, nil
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]models.AccessToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.AccessToken)}
}

func (s *MemoryStore) Issue(_ context.Context, tok models.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, row := range s.rows {
		if row.Identity == tok.Identity && row.Active {
			row.Active = false
			s.rows[k] = row
		}
	}
	s.rows[tok.Token] = tok
	return nil
}

func (s *MemoryStore) UpdateCount(_ context.Context, token string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	if !ok {
		return ErrNotFound
	}
	row.RequestCount = count
	s.rows[token] = row
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	if !ok {
		return ErrNotFound
	}
	row.Active = false
	s.rows[token] = row
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context, identity int64) (models.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  models.AccessToken
		found bool
	)
	for _, row := range s.rows {
		if row.Identity != identity || !row.Active {
			continue
		}
		if !found || row.IssuedAt.After(best.IssuedAt) {
			best, found = row, true
		}
	}
	if !found {
		return best, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) ListActive(_ context.Context, now time.Time) ([]models.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AccessToken
	for _, row := range s.rows {
		if row.Active && !row.Expired(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, retention time.Duration) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deactivated, deleted int64
	cutoff := now.Add(-retention)
	for k, row := range s.rows {
		if row.Active && row.Expired(now) {
			row.Active = false
			s.rows[k] = row
			deactivated++
		}
		if !row.Active && row.ExpiresAt.Before(cutoff) {
			delete(s.rows, k)
			deleted++
		}
	}
	return deactivated, deleted, nil
}

// Get returns a row by token, for inspection.
func (s *MemoryStore) Get(token string) (models.AccessToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	return row, ok
}
