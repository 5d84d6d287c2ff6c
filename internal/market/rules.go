package market

import (
	"context"
	"fmt"
	"sync"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/retry"

	"go.uber.org/zap"
)

type InstrumentSource interface {
	Instrument(ctx context.Context, instID string) (InstrumentRules, error)
}

// Resolver fetches instrument rules on first use and caches them for the
// lifetime of the process.
type Resolver struct {
	source InstrumentSource
	policy *retry.Policy
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]InstrumentRules
}

func NewResolver(source InstrumentSource, policy *retry.Policy, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		source: source,
		policy: policy,
		log:    log,
		cache:  make(map[string]InstrumentRules),
	}
}

func (r *Resolver) Resolve(ctx context.Context, instID string) (InstrumentRules, error) {
	r.mu.Lock()
	if rules, ok := r.cache[instID]; ok {
		r.mu.Unlock()
		return rules, nil
	}
	r.mu.Unlock()

	var rules InstrumentRules
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		rules, err = r.source.Instrument(ctx, instID)
		return err
	})
	if err != nil {
		return InstrumentRules{}, err
	}
	if err := rules.Validate(); err != nil {
		return InstrumentRules{}, err
	}
	r.mu.Lock()
	r.cache[instID] = rules
	r.mu.Unlock()
	r.log.Info("instrument rules resolved",
		zap.String("inst_id", instID),
		zap.String("tick_size", rules.TickSize.String()),
		zap.String("lot_size", rules.LotSize.String()),
		zap.String("min_size", rules.MinSize.String()),
	)
	return rules, nil
}

// Seed caches rules obtained elsewhere. Invalid rules are refused and leave
// the next Resolve to fetch.
func (r *Resolver) Seed(instID string, rules InstrumentRules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[instID] = rules
	r.mu.Unlock()
	return nil
}

// Validate rejects rules that cannot define a price or quantity grid.
func (r InstrumentRules) Validate() error {
	if !r.TickSize.IsPositive() {
		return fmt.Errorf("instrument %s tick size %s: %w", r.InstID, r.TickSize, apperr.ErrPriceComputation)
	}
	if !r.LotSize.IsPositive() {
		return fmt.Errorf("instrument %s lot size %s: %w", r.InstID, r.LotSize, apperr.ErrPriceComputation)
	}
	if r.MinSize.IsNegative() {
		return fmt.Errorf("instrument %s min size %s: %w", r.InstID, r.MinSize, apperr.ErrPriceComputation)
	}
	return nil
}
