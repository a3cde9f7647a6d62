package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenCounter is the cumulative number of chat tokens ever spent, kept in
// a `{"tokens_count": N}` file. It is never reset.
type TokenCounter struct {
	path string
	mu   sync.Mutex
}

type counterFile struct {
	TokensCount int64 `json:"tokens_count"`
}

func NewTokenCounter(path string) *TokenCounter {
	return &TokenCounter{path: path}
}

// Get returns the current total. A missing file counts as zero.
func (c *TokenCounter) Get() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

// Add increments the total by n and returns the new total.
func (c *TokenCounter) Add(n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total, err := c.read()
	if err != nil {
		return 0, err
	}
	total += n

	data, err := json.Marshal(counterFile{TokensCount: total})
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return 0, fmt.Errorf("quota: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, fmt.Errorf("quota: write token counter: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return 0, fmt.Errorf("quota: write token counter: %w", err)
	}
	return total, nil
}

func (c *TokenCounter) read() (int64, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("quota: read token counter: %w", err)
	}

	var f counterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("quota: parse token counter: %w", err)
	}
	return f.TokensCount, nil
}
