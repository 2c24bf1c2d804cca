package coa

import (
	"errors"
	"time"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Side is the debit/credit direction of a balance or journal line.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Valid reports whether the account type is one of the closed set.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// NormalSide returns the side on which the account's balance is
// conventionally positive.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Account models a chart of accounts node. Type is fixed at creation and
// never changes once a posted line references the account.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Description    string
	Type           AccountType
	ParentID       *int64
	Currency       string
	IsActive       bool
	IsAnalytic     bool
	AllowNegative  bool
	OpeningBalance int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalSide is shorthand for the account type's normal side.
func (a Account) NormalSide() Side { return a.Type.NormalSide() }

var (
	// ErrNotFound indicates the account code does not exist.
	ErrNotFound = errors.New("coa: account not found")
	// ErrDuplicateCode indicates the code is already taken.
	ErrDuplicateCode = errors.New("coa: duplicate account code")
	// ErrInvalidParent indicates the parent is missing, inactive, or would form a cycle.
	ErrInvalidParent = errors.New("coa: invalid parent account")
	// ErrInvalidType indicates an account type outside the closed set.
	ErrInvalidType = errors.New("coa: invalid account type")
	// ErrHasActiveChildren indicates deactivation with active descendants.
	ErrHasActiveChildren = errors.New("coa: account has active children")
	// ErrInactiveParent indicates reactivation under an inactive parent.
	ErrInactiveParent = errors.New("coa: parent account is inactive")
)

// CreateInput groups fields required to create an account.
type CreateInput struct {
	Code           string
	Name           string
	Description    string
	Type           AccountType
	ParentCode     string
	Currency       string
	IsAnalytic     bool
	AllowNegative  bool
	OpeningBalance int64
}

// Filter narrows account listings.
type Filter struct {
	Type       AccountType
	ParentCode string
	ActiveOnly bool
	Limit      int
	Offset     int
}
