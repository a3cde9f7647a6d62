package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"speechkit-bot/internal/metrics"
)

// ErrUnavailable means no usable token could be obtained. Every operation
// that needs the upstream services fails with it.
var ErrUnavailable = errors.New("credential: token unavailable")

// Refresher obtains a new token and its time-to-live.
type Refresher interface {
	Refresh(ctx context.Context) (token string, ttl time.Duration, err error)
}

// MetadataRefresher asks the instance metadata service for a service
// account token.
type MetadataRefresher struct {
	endpoint string
	client   *http.Client
}

func NewMetadataRefresher(endpoint string, timeout time.Duration) *MetadataRefresher {
	return &MetadataRefresher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *MetadataRefresher) Refresh(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("credential: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("credential: refresh failed: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, fmt.Errorf("credential: parse refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return "", 0, errors.New("credential: refresh response has no access_token")
	}
	return result.AccessToken, time.Duration(result.ExpiresIn) * time.Second, nil
}

// Cache hands out the bearer token, refreshing it when it is missing or
// expired. Concurrent callers are not coordinated: two simultaneous
// expirations may both refresh and the last save wins.
type Cache struct {
	store     Store
	refresher Refresher
	log       *slog.Logger
	now       func() time.Time
}

func NewCache(store Store, refresher Refresher, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:     store,
		refresher: refresher,
		log:       log.With("component", "credential"),
		now:       time.Now,
	}
}

// Token returns a valid bearer token or ErrUnavailable.
func (c *Cache) Token(ctx context.Context) (string, error) {
	now := c.now()

	cred, err := c.store.Load(ctx)
	switch {
	case err == nil:
		if cred.Valid(now) {
			return cred.AccessToken, nil
		}
	case errors.Is(err, ErrNoCredential):
	default:
		// an unreadable cache is replaced by a fresh token
		c.log.WarnContext(ctx, "credential cache unreadable", "error", err)
	}

	token, ttl, err := c.refresher.Refresh(ctx)
	if err != nil {
		metrics.CredentialRefresh.WithLabelValues("error").Inc()
		c.log.ErrorContext(ctx, "credential refresh failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.CredentialRefresh.WithLabelValues("ok").Inc()

	if err := c.store.Save(ctx, NewCredential(token, now, ttl)); err != nil {
		// the token is still good for this call
		c.log.ErrorContext(ctx, "credential save failed", "error", err)
	}
	return token, nil
}
