package account

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ghost-pay/ghost_pay/internal/ids"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
)

const (
	defaultCurrency = "BRL"
	minNameLen      = 2
	maxNameLen      = 60
)

var (
	ErrInvalidName     = errors.New("name must be between 2 and 60 characters")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
	ErrNotFound        = errors.New("account not found")
)

// Service opens and reads accounts.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds an account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// OpenInput captures the data needed to open an account.
type OpenInput struct {
	OwnerID  string
	Name     string
	Currency string
}

// Open creates a zero-balance account. Money only enters through a deposit.
func (s *Service) Open(ctx context.Context, in OpenInput) (ledger.Account, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return ledger.Account{}, ErrInvalidName
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !isCurrencyCode(currency) {
		return ledger.Account{}, ErrInvalidCurrency
	}

	acc := ledger.Account{
		ID:        ids.New(ids.Account),
		OwnerID:   in.OwnerID,
		Name:      name,
		Currency:  currency,
		Number:    ids.AccountNumber(),
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

// List returns the owner's accounts.
func (s *Service) List(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Get returns ErrNotFound for unknown ids and for accounts of other owners.
func (s *Service) Get(ctx context.Context, ownerID, id string) (ledger.Account, error) {
	acc, ok, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if !ok {
		return ledger.Account{}, ErrNotFound
	}
	return acc, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
