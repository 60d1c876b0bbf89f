package floors

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gift-pricer/internal/cache"
)

const (
	credentialKey         = "floor_api"
	defaultCredentialLife = 900 * time.Second
)

// credentialFile is written by the external session collaborator.
type credentialFile struct {
	Token     string   `json:"token"`
	Time      float64  `json:"time"`
	ExpiresIn *float64 `json:"expires_in"`
}

// CredentialSource yields the opaque bearer string for the floor service.
type CredentialSource interface {
	Credential() (string, bool)
}

// StaticCredential always returns the same value; empty means none.
type StaticCredential string

func (s StaticCredential) Credential() (string, bool) {
	return string(s), s != ""
}

type CredentialProvider struct {
	path  string
	cache *cache.Manager
	now   func() time.Time
}

func NewCredentialProvider(path string, c *cache.Manager) *CredentialProvider {
	return &CredentialProvider{path: path, cache: c, now: time.Now}
}

// Credential returns the cached credential while it is fresh, otherwise re-reads
// the file. When the file cannot be read the last known credential is used.
func (p *CredentialProvider) Credential() (string, bool) {
	if token, ok := cache.Lookup[string](p.cache, cache.ClassCredential, credentialKey); ok {
		return token, true
	}

	token, err := p.read()
	if err != nil {
		log.Printf("[floors] 读取凭证失败: %v", err)
		if stale, ok := cache.LookupStale[string](p.cache, cache.ClassCredential, credentialKey); ok {
			return stale, true
		}
		return "", false
	}
	if token == "" {
		return "", false
	}

	p.cache.Set(cache.ClassCredential, credentialKey, token)
	return token, true
}

// read returns "" with a nil error for a well-formed file that holds no usable token.
func (p *CredentialProvider) read() (string, error) {
	if p.path == "" {
		return "", fmt.Errorf("credential file not configured")
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p.path, err)
	}

	var f credentialFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("decode %s: %w", p.path, err)
	}
	if f.Token == "" {
		return "", nil
	}

	life := defaultCredentialLife
	if f.ExpiresIn != nil {
		life = time.Duration(*f.ExpiresIn * float64(time.Second))
	}
	issued := time.Unix(0, int64(f.Time*float64(time.Second)))
	if p.now().Sub(issued) > life {
		return "", nil
	}
	return f.Token, nil
}
