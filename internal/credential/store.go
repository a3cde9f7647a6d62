package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ErrNoCredential is returned by a Store that holds no credential yet.
var ErrNoCredential = errors.New("credential: not stored")

// Credential is the persisted bearer token. ExpiresAt is unix seconds
// with a fractional part, the format the bot has always written.
type Credential struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   float64 `json:"expires_at"`
}

// NewCredential builds a credential expiring ttl after now.
func NewCredential(token string, now time.Time, ttl time.Duration) Credential {
	return Credential{
		AccessToken: token,
		ExpiresAt:   float64(now.Add(ttl).UnixNano()) / float64(time.Second),
	}
}

// Expiry returns ExpiresAt as a time.
func (c Credential) Expiry() time.Time {
	sec, frac := math.Modf(c.ExpiresAt)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Valid reports whether the token is usable at now. A credential
// expiring exactly at now is expired.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.Expiry())
}

// Store persists the single process-wide credential.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, c Credential) error
}

// FileStore keeps the credential in a small JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("credential: read %s: %w", s.path, err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("credential: parse %s: %w", s.path, err)
	}
	return &c, nil
}

// Save overwrites the file in place through a temp file and rename.
func (s *FileStore) Save(_ context.Context, c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("credential: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credential: rename %s: %w", tmp, err)
	}
	return nil
}
