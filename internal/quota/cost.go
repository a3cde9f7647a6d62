package quota

import (
	"context"
	"fmt"
	"log/slog"

	"speechkit-bot/internal/account"
)

// Rates are the per-unit prices of the upstream services.
type Rates struct {
	GPTPer1KTokens float64
	STTPerBlock    float64
	TTSPer1MChars  float64
}

// DefaultRates are the list prices the bot was budgeted with.
var DefaultRates = Rates{
	GPTPer1KTokens: 0.20,
	STTPerBlock:    0.16,
	TTSPer1MChars:  1320,
}

// CostOf prices units of a pool.
func (r Rates) CostOf(kind account.Kind, units int64) float64 {
	switch kind {
	case account.KindGPT:
		return float64(units) * r.GPTPer1KTokens / 1000
	case account.KindSTT:
		return float64(units) * r.STTPerBlock
	case account.KindTTS:
		return float64(units) * r.TTSPer1MChars / 1_000_000
	}
	return 0
}

// Ledger is what the calculator needs from the account store.
type Ledger interface {
	Reader
	UserIDs(ctx context.Context) ([]int64, error)
	SetField(ctx context.Context, userID int64, field account.Field, value any) error
}

// Calculator prices consumption and maintains the stored debt.
type Calculator struct {
	ledger   Ledger
	ceilings account.Ceilings
	rates    Rates
	log      *slog.Logger
}

func NewCalculator(ledger Ledger, ceilings account.Ceilings, rates Rates, log *slog.Logger) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	return &Calculator{ledger: ledger, ceilings: ceilings, rates: rates, log: log.With("component", "cost")}
}

// Cost returns the monetary cost of what the user consumed from one pool.
func (c *Calculator) Cost(ctx context.Context, userID int64, kind account.Kind) (float64, error) {
	a, err := c.ledger.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return c.rates.CostOf(kind, Consumed(a, c.ceilings, kind)), nil
}

// Costs returns the per-pool costs of a user.
func (c *Calculator) Costs(ctx context.Context, userID int64) (map[account.Kind]float64, error) {
	a, err := c.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.costs(a), nil
}

func (c *Calculator) costs(a *account.Account) map[account.Kind]float64 {
	costs := make(map[account.Kind]float64, len(account.Kinds))
	for _, kind := range account.Kinds {
		costs[kind] = c.rates.CostOf(kind, Consumed(a, c.ceilings, kind))
	}
	return costs
}

// RecomputeAllDebts writes the summed cost of every pool into the debt of
// every known user. It is a full sweep over the ledger.
func (c *Calculator) RecomputeAllDebts(ctx context.Context) (int, error) {
	ids, err := c.ledger.UserIDs(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		a, err := c.ledger.Get(ctx, id)
		if err != nil {
			return updated, fmt.Errorf("quota: recompute debt of %d: %w", id, err)
		}
		var debt float64
		for _, cost := range c.costs(a) {
			debt += cost
		}
		if err := c.ledger.SetField(ctx, id, account.FieldDebt, debt); err != nil {
			return updated, fmt.Errorf("quota: recompute debt of %d: %w", id, err)
		}
		updated++
	}

	c.log.InfoContext(ctx, "debts recomputed", "users", updated)
	return updated, nil
}
