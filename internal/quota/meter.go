package quota

import (
	"context"
	"fmt"
	"log/slog"

	"speechkit-bot/internal/account"
	"speechkit-bot/internal/metrics"
)

// ErrQuotaExceeded is returned when a pool cannot cover a request.
var ErrQuotaExceeded = account.ErrQuotaExceeded

// Reader is the read contract of the ledger.
type Reader interface {
	Get(ctx context.Context, userID int64) (*account.Account, error)
}

// Meter derives consumption from the ledger and gates metered requests.
type Meter struct {
	ledger   Reader
	ceilings account.Ceilings
	log      *slog.Logger
}

func NewMeter(ledger Reader, ceilings account.Ceilings, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{ledger: ledger, ceilings: ceilings, log: log.With("component", "meter")}
}

// Consumed returns ceiling - remaining, never negative.
func Consumed(a *account.Account, ceilings account.Ceilings, kind account.Kind) int64 {
	used := ceilings.Of(kind) - a.Remaining(kind)
	if used < 0 {
		return 0
	}
	return used
}

// Consumed returns how much of a pool the user has used.
func (m *Meter) Consumed(ctx context.Context, userID int64, kind account.Kind) (int64, error) {
	a, err := m.ledger.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return Consumed(a, m.ceilings, kind), nil
}

// Usage returns the consumption of every pool.
func (m *Meter) Usage(ctx context.Context, userID int64) (map[account.Kind]int64, error) {
	a, err := m.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage := make(map[account.Kind]int64, len(account.Kinds))
	for _, kind := range account.Kinds {
		usage[kind] = Consumed(a, m.ceilings, kind)
	}
	return usage, nil
}

// Check verifies that the pool covers cost before anything is spent.
func (m *Meter) Check(ctx context.Context, a *account.Account, kind account.Kind, cost int64) error {
	if remaining := a.Remaining(kind); remaining < cost {
		metrics.QuotaRejections.WithLabelValues(string(kind)).Inc()
		m.log.InfoContext(ctx, "quota exceeded", "user_id", a.UserID, "kind", kind, "cost", cost, "remaining", remaining)
		return fmt.Errorf("%w: %s needs %d, %d left", ErrQuotaExceeded, kind, cost, remaining)
	}
	return nil
}

// Ceilings returns the configured ceilings
func (m *Meter) Ceilings() account.Ceilings {
	return m.ceilings
}

// STTBlocks is the number of billing blocks of an audio clip: every started
// block of blockSeconds counts.
func STTBlocks(seconds, blockSeconds int) int64 {
	if seconds <= 0 {
		return 0
	}
	if blockSeconds <= 0 {
		blockSeconds = 15
	}
	return int64((seconds + blockSeconds - 1) / blockSeconds)
}
