package journal

import (
	"time"

	"github.com/google/uuid"
)

// LineInput is one caller-supplied leg of an entry. Amounts are minor units.
type LineInput struct {
	AccountCode       string
	Description       string
	Debit             int64
	Credit            int64
	AnalyticAccountID *int64
}

// Validate enforces the one-side rule: exactly one of debit and credit is
// set, and the set side is at least one minor unit.
func (in LineInput) Validate() error {
	if in.AccountCode == "" {
		return ErrBadLine
	}
	if in.Debit < 0 || in.Credit < 0 {
		return ErrBadLine
	}
	if (in.Debit == 0) == (in.Credit == 0) {
		return ErrBadLine
	}
	return nil
}

// DraftInput creates a draft entry, optionally with initial lines.
type DraftInput struct {
	Date        time.Time
	Description string
	Reference   string
	Notes       string
	SourceRef   *uuid.UUID
	Lines       []LineInput
}

// Validate checks the draft fields. Drafts may exist with any line set,
// including none; line shape is still enforced per line.
func (in DraftInput) Validate() error {
	if in.Date.IsZero() {
		return ErrInvalidState
	}
	for _, line := range in.Lines {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PostingInput creates and posts an entry in one call.
type PostingInput struct {
	Date        time.Time
	Description string
	Reference   string
	Notes       string
	SourceRef   *uuid.UUID
	Lines       []LineInput
}

// Validate enforces everything a postable entry needs structurally: at least
// two well-formed lines summing to an exact debit/credit match.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return ErrInvalidState
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit int64
	for _, line := range in.Lines {
		if err := line.Validate(); err != nil {
			return err
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return ErrUnbalanced
	}
	return nil
}
