package api

import (
	"fmt"

	"github.com/paychat-app/paychat/internal/timeline"
)

// TransactionService answers wallet-centric queries over the timeline.
type TransactionService struct {
	store *timeline.Store
	scope func() string
}

// NewTransactionService creates a transaction service.
func NewTransactionService(store *timeline.Store, scope func() string) *TransactionService {
	return &TransactionService{store: store, scope: scope}
}

func (s *TransactionService) profileID() (string, error) {
	p := s.scope()
	if p == "" {
		return "", fmt.Errorf("no active profile")
	}
	return p, nil
}

// GetByWallet returns transactions touching one wallet, newest first,
// with double-entry duplicates collapsed.
func (s *TransactionService) GetByWallet(walletID string, limit int) ([]timeline.Item, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.GetTransactionsByWallet(walletID, profileID, limit)
}

// GetAll returns the profile's transactions across all wallets, newest
// first, deduplicated.
func (s *TransactionService) GetAll(limit int) ([]timeline.Item, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.GetAllTransactions(profileID, limit)
}
