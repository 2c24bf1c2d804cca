package coa

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Service coordinates chart of accounts maintenance.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the chart of accounts service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a new account under an optional parent. Codes are unique
// across the whole chart, which also keeps parent and descendant codes from
// colliding.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if strings.TrimSpace(in.Code) == "" {
		return Account{}, errors.New("coa: code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return Account{}, errors.New("coa: name required")
	}
	if !in.Type.Valid() {
		return Account{}, ErrInvalidType
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account := Account{
			Code:           in.Code,
			Name:           in.Name,
			Description:    in.Description,
			Type:           in.Type,
			Currency:       in.Currency,
			IsAnalytic:     in.IsAnalytic,
			AllowNegative:  in.AllowNegative,
			OpeningBalance: in.OpeningBalance,
		}
		if in.ParentCode != "" {
			parent, err := tx.GetByCode(ctx, in.ParentCode)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return ErrInvalidParent
				}
				return err
			}
			if !parent.IsActive || parent.Code == in.Code {
				return ErrInvalidParent
			}
			account.ParentID = &parent.ID
		}
		inserted, err := tx.Insert(ctx, account)
		if err != nil {
			return err
		}
		if err := tx.InitBalance(ctx, inserted.ID, inserted.OpeningBalance); err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return created, nil
}

// Get returns the account identified by code.
func (s *Service) Get(ctx context.Context, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		account, e = tx.GetByCode(ctx, code)
		return e
	})
	return account, err
}

// List returns accounts matching the filter, ordered by code.
func (s *Service) List(ctx context.Context, f Filter) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		accounts, e = tx.List(ctx, f)
		return e
	})
	return accounts, err
}

// Children returns the direct children of the account, ordered by code.
func (s *Service) Children(ctx context.Context, code string) ([]Account, error) {
	var children []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		children, err = tx.ListChildren(ctx, account.ID)
		return err
	})
	return children, err
}

// Ancestors returns the chain from the root down to the account's direct
// parent. Used by balance roll-ups.
func (s *Service) Ancestors(ctx context.Context, code string) ([]Account, error) {
	var chain []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		seen := map[int64]bool{account.ID: true}
		for account.ParentID != nil {
			parent, err := tx.GetByID(ctx, *account.ParentID)
			if err != nil {
				return err
			}
			if seen[parent.ID] {
				return ErrInvalidParent
			}
			seen[parent.ID] = true
			chain = append([]Account{parent}, chain...)
			account = parent
		}
		return nil
	})
	return chain, err
}

// SubtreeIDs returns the ids of the account and every descendant, the unit
// over which rolled-up balances are summed.
func (s *Service) SubtreeIDs(ctx context.Context, code string) ([]int64, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		root, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		queue := []Account{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			ids = append(ids, current.ID)
			children, err := tx.ListChildren(ctx, current.ID)
			if err != nil {
				return err
			}
			queue = append(queue, children...)
		}
		return nil
	})
	return ids, err
}

// UpdateDetails changes the mutable name/description fields only.
func (s *Service) UpdateDetails(ctx context.Context, code, name, description string) (Account, error) {
	if strings.TrimSpace(name) == "" {
		return Account{}, errors.New("coa: name required")
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		account.Name = name
		account.Description = description
		if err := tx.Update(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	return updated, err
}

// Deactivate soft-disables an account. Accounts referenced by posted lines
// are never deleted; this is the only destructive-looking operation and it
// is reversible.
func (s *Service) Deactivate(ctx context.Context, code string) (Account, error) {
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		children, err := tx.ListChildren(ctx, account.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.IsActive {
				return ErrHasActiveChildren
			}
		}
		account.IsActive = false
		if err := tx.Update(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	return updated, err
}

// Reactivate re-enables a deactivated account. The parent must be active so
// the active part of the tree stays connected.
func (s *Service) Reactivate(ctx context.Context, code string) (Account, error) {
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if account.ParentID != nil {
			parent, err := tx.GetByID(ctx, *account.ParentID)
			if err != nil {
				return err
			}
			if !parent.IsActive {
				return ErrInactiveParent
			}
		}
		account.IsActive = true
		if err := tx.Update(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	return updated, err
}
