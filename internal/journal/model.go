package journal

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/grandlivre/grandlivre/internal/coa"
)

// Status is the lifecycle state of a journal entry.
type Status string

const (
	// StatusDraft is a mutable, unposted entry. Drafts never affect balances.
	StatusDraft Status = "DRAFT"
	// StatusBalanced marks a validated draft whose debits equal credits.
	StatusBalanced Status = "BALANCED"
	// StatusPosted is an immutable entry applied to account balances.
	StatusPosted Status = "POSTED"
	// StatusArchived is a posted entry in a closed period. Its lines keep
	// contributing to balances.
	StatusArchived Status = "ARCHIVED"
	// StatusReversed marks a posted entry that a reversal entry has offset.
	// The marker is informational: the entry's lines remain in force and the
	// reversal's swapped lines net them to zero.
	StatusReversed Status = "REVERSED"
)

// Affects reports whether lines in this status contribute to balances.
func (s Status) Affects() bool {
	switch s {
	case StatusPosted, StatusArchived, StatusReversed:
		return true
	default:
		return false
	}
}

// Entry is one journal entry with its lines.
type Entry struct {
	ID          int64
	Number      string
	Date        time.Time
	Description string
	Reference   string
	Notes       string
	Status      Status
	SourceRef   *uuid.UUID
	ReversalOf  *int64
	ReversedBy  *int64
	TotalDebit  int64
	TotalCredit int64
	PostedAt    *time.Time
	PostedBy    *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []Line
}

// Line is one leg of an entry. Exactly one of Debit and Credit is nonzero.
type Line struct {
	ID                int64
	EntryID           int64
	AccountID         int64
	AccountCode       string
	Description       string
	Debit             int64
	Credit            int64
	AnalyticAccountID *int64
}

// Side returns the direction the line moves its account.
func (l Line) Side() coa.Side {
	if l.Debit != 0 {
		return coa.SideDebit
	}
	return coa.SideCredit
}

// Amount returns the line's magnitude in minor units.
func (l Line) Amount() int64 {
	if l.Debit != 0 {
		return l.Debit
	}
	return l.Credit
}

var (
	// ErrNotFound indicates the entry does not exist.
	ErrNotFound = errors.New("journal: entry not found")
	// ErrInvalidState indicates an operation not allowed in the entry's status.
	ErrInvalidState = errors.New("journal: invalid entry state")
	// ErrUnbalanced indicates total debits differ from total credits.
	ErrUnbalanced = errors.New("journal: debits do not equal credits")
	// ErrTooFewLines indicates fewer than two lines.
	ErrTooFewLines = errors.New("journal: entry requires at least two lines")
	// ErrBadLine indicates a line violating the one-side, positive-amount rule.
	ErrBadLine = errors.New("journal: line must carry exactly one positive side")
	// ErrAccountInactive indicates a line referencing a deactivated account.
	ErrAccountInactive = errors.New("journal: account is inactive")
	// ErrAnalyticAccount indicates an analytic tag that does not resolve to
	// an active analytic-enabled account.
	ErrAnalyticAccount = errors.New("journal: analytic tag must reference an active analytic account")
	// ErrNegativeBalance indicates a posting that would drive an account
	// below zero where the account forbids it.
	ErrNegativeBalance = errors.New("journal: posting would overdraw account")
	// ErrSourceConflict indicates the source reference already produced an entry.
	ErrSourceConflict = errors.New("journal: source reference already journalled")
	// ErrAlreadyReversed indicates a second reversal of the same entry.
	ErrAlreadyReversed = errors.New("journal: entry already reversed")
	// ErrPeriodOpen indicates archiving an entry whose period is still open.
	ErrPeriodOpen = errors.New("journal: period still open")
)
