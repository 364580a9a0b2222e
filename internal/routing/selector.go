// Package routing picks which settlement account executes an instruction.
// Selection is weighted-random over the client's configured percentages,
// falling back to the first active account when nothing is weighted.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

// ErrNoAccountAvailable means no active account survived the filters. This
// is a routing outcome, not a failure.
var ErrNoAccountAvailable = errors.New("no account available")

// ErrAccountNotEligible is returned by ValidateAccountForTransaction.
var ErrAccountNotEligible = errors.New("account not eligible for transaction")

const (
	reasonWeighted = "weighted selection based on priority configuration"
	reasonDefault  = "default selection - no priority configuration"
)

// AccountProvider is the account inventory collaborator.
type AccountProvider interface {
	AccountsForClient(ctx context.Context, clientID string) ([]domain.Account, error)
}

// PriorityProvider is the priority configuration collaborator. A nil
// configuration with a nil error means no weighting is configured.
type PriorityProvider interface {
	PriorityForClient(ctx context.Context, clientID string) (*domain.PriorityConfiguration, error)
}

type Selector struct {
	accounts   AccountProvider
	priorities PriorityProvider

	// The generator is not safe for concurrent use on its own; every draw
	// takes the mutex.
	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Selector)

// WithRand injects a deterministic generator, used by tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *Selector) { s.rng = rng }
}

func NewSelector(accounts AccountProvider, priorities PriorityProvider, opts ...Option) *Selector {
	s := &Selector{
		accounts:   accounts,
		priorities: priorities,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectAccountForTransaction picks the settlement account for one
// instruction. bankCodeFilter narrows the candidates when non-empty; amount
// is carried for future limit checks and audit logging only.
func (s *Selector) SelectAccountForTransaction(ctx context.Context, clientID, bankCodeFilter string, amount decimal.Decimal) (*domain.SelectedAccountInfo, error) {
	annotated, err := s.GetAccountsWithPriority(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var candidates []domain.AccountWithPriority
	for _, a := range annotated {
		if !a.Account.IsActive {
			continue
		}
		if bankCodeFilter != "" && a.Account.BankCode != bankCodeFilter {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("client %s (bank filter %q): %w", clientID, bankCodeFilter, ErrNoAccountAvailable)
	}

	var totalWeight float64
	for _, c := range candidates {
		totalWeight += c.Weight
	}

	if totalWeight > 0 {
		selected := s.drawWeighted(candidates, totalWeight)
		log.Printf("[routing] client=%s selected account=%s weight=%.1f amount=%s (%s)",
			clientID, selected.Account.ID, selected.Weight, amount.StringFixed(2), reasonWeighted)
		return &domain.SelectedAccountInfo{
			Account:         selected.Account,
			Weight:          selected.Weight,
			SelectionReason: reasonWeighted,
		}, nil
	}

	first := candidates[0]
	log.Printf("[routing] client=%s selected account=%s (%s)",
		clientID, first.Account.ID, reasonDefault)
	return &domain.SelectedAccountInfo{
		Account:         first.Account,
		Weight:          0,
		SelectionReason: reasonDefault,
	}, nil
}

// drawWeighted walks the candidates ordered by ascending weight, accumulating
// a running sum, and returns the first whose cumulative sum reaches a uniform
// draw in [0, totalWeight).
func (s *Selector) drawWeighted(candidates []domain.AccountWithPriority, totalWeight float64) domain.AccountWithPriority {
	ordered := append([]domain.AccountWithPriority{}, candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Weight != ordered[j].Weight {
			return ordered[i].Weight < ordered[j].Weight
		}
		return ordered[i].Account.ID < ordered[j].Account.ID
	})

	s.mu.Lock()
	draw := s.rng.Float64() * totalWeight
	s.mu.Unlock()

	var cumulative float64
	for _, c := range ordered {
		cumulative += c.Weight
		if cumulative >= draw {
			return c
		}
	}
	return ordered[len(ordered)-1] // float rounding fallback
}

// GetAccountsWithPriority returns the full annotated inventory for display
// and audit, without filtering or selecting.
func (s *Selector) GetAccountsWithPriority(ctx context.Context, clientID string) ([]domain.AccountWithPriority, error) {
	accounts, err := s.accounts.AccountsForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("account inventory for %s: %w", clientID, err)
	}

	cfg, err := s.priorities.PriorityForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("priority config for %s: %w", clientID, err)
	}

	weights := make(map[string]float64)
	if cfg != nil {
		for _, p := range cfg.Accounts {
			weights[p.AccountID] = p.Percentual
		}
	}

	annotated := make([]domain.AccountWithPriority, 0, len(accounts))
	for _, a := range accounts {
		w, ok := weights[a.ID]
		annotated = append(annotated, domain.AccountWithPriority{
			Account:     a,
			Weight:      w,
			HasPriority: ok,
		})
	}
	return annotated, nil
}

// ValidateAccountForTransaction confirms ownership and active status.
// Balance and limit checks belong to a later extension; amount is accepted
// for signature stability.
func (s *Selector) ValidateAccountForTransaction(ctx context.Context, accountID, clientID string, amount decimal.Decimal) error {
	accounts, err := s.accounts.AccountsForClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("account inventory for %s: %w", clientID, err)
	}
	for _, a := range accounts {
		if a.ID != accountID {
			continue
		}
		if !a.IsActive {
			return fmt.Errorf("account %s is inactive: %w", accountID, ErrAccountNotEligible)
		}
		return nil
	}
	return fmt.Errorf("account %s does not belong to client %s: %w", accountID, clientID, ErrAccountNotEligible)
}
