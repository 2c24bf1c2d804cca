package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/grandlivre/grandlivre/internal/balances"
	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/shared"
)

// AuditPort records journal events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts journal outcomes.
type MetricsPort interface {
	EntryPosted()
	ReversalPosted()
	PostingRejected()
}

type noopMetrics struct{}

func (noopMetrics) EntryPosted()     {}
func (noopMetrics) ReversalPosted()  {}
func (noopMetrics) PostingRejected() {}

// Service owns the journal entry lifecycle. Posting applies an entry's lines
// to account balances in the same transaction that flips its status, so a
// crash mid-post leaves no partial effect.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the journal service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostOption tweaks posting behaviour.
type PostOption func(*postOptions)

type postOptions struct {
	allowClosedPeriod bool
}

// AllowClosedPeriod lets the fiscal year closer post result entries into
// periods that are closed but not locked. Locked periods still refuse.
func AllowClosedPeriod() PostOption {
	return func(o *postOptions) { o.allowClosedPeriod = true }
}

// CreateDraft inserts a mutable draft entry. The entry number is assigned
// immediately, so gaps appear when drafts are abandoned.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.SourceRef != nil {
			if _, found, err := tx.FindBySourceRef(ctx, *in.SourceRef); err != nil {
				return err
			} else if found {
				return ErrSourceConflict
			}
		}
		inserted, err := tx.InsertEntry(ctx, Entry{
			Date:        in.Date,
			Description: in.Description,
			Reference:   in.Reference,
			Notes:       in.Notes,
			Status:      StatusDraft,
			SourceRef:   in.SourceRef,
		})
		if err != nil {
			return err
		}
		for _, li := range in.Lines {
			line, err := s.insertLine(ctx, tx, inserted.ID, li)
			if err != nil {
				return err
			}
			inserted.Lines = append(inserted.Lines, line)
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *Service) insertLine(ctx context.Context, tx TxRepository, entryID int64, in LineInput) (Line, error) {
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	account, err := tx.GetAccountByCode(ctx, in.AccountCode)
	if err != nil {
		return Line{}, err
	}
	if !account.IsActive {
		return Line{}, fmt.Errorf("%w: %s", ErrAccountInactive, account.Code)
	}
	if in.AnalyticAccountID != nil {
		analytic, err := tx.GetAccountByID(ctx, *in.AnalyticAccountID)
		if err != nil {
			if errors.Is(err, coa.ErrNotFound) {
				return Line{}, fmt.Errorf("%w: id %d", ErrAnalyticAccount, *in.AnalyticAccountID)
			}
			return Line{}, err
		}
		if !analytic.IsActive || !analytic.IsAnalytic {
			return Line{}, fmt.Errorf("%w: %s", ErrAnalyticAccount, analytic.Code)
		}
	}
	line, err := tx.InsertLine(ctx, Line{
		EntryID:           entryID,
		AccountID:         account.ID,
		Description:       in.Description,
		Debit:             in.Debit,
		Credit:            in.Credit,
		AnalyticAccountID: in.AnalyticAccountID,
	})
	if err != nil {
		return Line{}, err
	}
	line.AccountCode = account.Code
	return line, nil
}

// AddLine appends a line to a draft. Any non-draft entry refuses.
func (s *Service) AddLine(ctx context.Context, entryID int64, in LineInput) (Line, error) {
	var line Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft && entry.Status != StatusBalanced {
			return fmt.Errorf("%w: %s", ErrInvalidState, entry.Status)
		}
		line, err = s.insertLine(ctx, tx, entryID, in)
		if err != nil {
			return err
		}
		// Any mutation demotes a balanced entry back to draft.
		if entry.Status == StatusBalanced {
			return tx.UpdateEntryStatus(ctx, entryID, StatusDraft, 0, 0)
		}
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// RemoveLine deletes a line from a draft.
func (s *Service) RemoveLine(ctx context.Context, entryID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft && entry.Status != StatusBalanced {
			return fmt.Errorf("%w: %s", ErrInvalidState, entry.Status)
		}
		if err := tx.DeleteLine(ctx, entryID, lineID); err != nil {
			return err
		}
		if entry.Status == StatusBalanced {
			return tx.UpdateEntryStatus(ctx, entryID, StatusDraft, 0, 0)
		}
		return nil
	})
}

// ValidateBalance promotes a draft to BALANCED when its lines are well formed
// and total debits equal total credits exactly. Failure leaves the draft
// untouched and returns why.
func (s *Service) ValidateBalance(ctx context.Context, entryID int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Status != StatusDraft {
			return fmt.Errorf("%w: %s", ErrInvalidState, e.Status)
		}
		lines, err := tx.ListLines(ctx, entryID)
		if err != nil {
			return err
		}
		debit, credit, err := checkLines(lines)
		if err != nil {
			return err
		}
		if err := tx.UpdateEntryStatus(ctx, entryID, StatusBalanced, debit, credit); err != nil {
			return err
		}
		e.Status = StatusBalanced
		e.TotalDebit = debit
		e.TotalCredit = credit
		e.Lines = lines
		entry = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func checkLines(lines []Line) (debit, credit int64, err error) {
	if len(lines) < 2 {
		return 0, 0, ErrTooFewLines
	}
	for _, l := range lines {
		if l.Debit < 0 || l.Credit < 0 || (l.Debit == 0) == (l.Credit == 0) {
			return 0, 0, ErrBadLine
		}
		debit += l.Debit
		credit += l.Credit
	}
	if debit != credit {
		return 0, 0, fmt.Errorf("%w: %d vs %d", ErrUnbalanced, debit, credit)
	}
	return debit, credit, nil
}

// Post applies a draft or balanced entry to account balances and freezes it.
// The balance invariant is rechecked inside the transaction regardless of
// prior validation.
func (s *Service) Post(ctx context.Context, entryID, actorID int64, opts ...PostOption) (Entry, error) {
	var options postOptions
	for _, opt := range opts {
		opt(&options)
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.postLocked(ctx, tx, entryID, actorID, options)
		return err
	})
	if err != nil {
		s.metrics.PostingRejected()
		return Entry{}, err
	}
	s.metrics.EntryPosted()
	s.recordAudit(ctx, actorID, "journal.post", entry)
	return entry, nil
}

// postLocked runs inside an open transaction. Reverse and the one-shot path
// reuse it so every posting obeys the same checks.
func (s *Service) postLocked(ctx context.Context, tx TxRepository, entryID, actorID int64, options postOptions) (Entry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.Status != StatusDraft && entry.Status != StatusBalanced {
		return Entry{}, fmt.Errorf("%w: %s", ErrInvalidState, entry.Status)
	}
	lines, err := tx.ListLines(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	debit, credit, err := checkLines(lines)
	if err != nil {
		return Entry{}, err
	}

	period, err := tx.GetPeriodForDate(ctx, entry.Date)
	if err != nil {
		return Entry{}, err
	}
	if period.LockedAt != nil {
		return Entry{}, periods.ErrNotOpen
	}
	if period.IsClosed && !options.allowClosedPeriod {
		return Entry{}, periods.ErrNotOpen
	}

	// Lock accounts in ascending ID order so concurrent postings that share
	// accounts cannot deadlock.
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accounts := make(map[int64]coa.Account, len(ids))
	for _, id := range ids {
		account, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		if !account.IsActive {
			return Entry{}, fmt.Errorf("%w: %s", ErrAccountInactive, account.Code)
		}
		accounts[id] = account
	}
	deltas := make(map[int64]int64, len(ids))
	for _, l := range lines {
		account := accounts[l.AccountID]
		deltas[l.AccountID] += balances.Delta(l.Side(), account.NormalSide(), l.Amount())
	}
	for _, id := range ids {
		account := accounts[id]
		current, err := tx.BalanceForUpdate(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		if current+deltas[id] < 0 && !account.AllowNegative {
			return Entry{}, fmt.Errorf("%w: %s", ErrNegativeBalance, account.Code)
		}
		if err := tx.ApplyBalanceDelta(ctx, id, deltas[id]); err != nil {
			return Entry{}, err
		}
	}

	if err := tx.UpdateEntryStatus(ctx, entryID, StatusPosted, debit, credit); err != nil {
		return Entry{}, err
	}
	postedAt := s.now()
	if err := tx.MarkPosted(ctx, entryID, actorID, postedAt); err != nil {
		return Entry{}, err
	}
	entry.Status = StatusPosted
	entry.TotalDebit = debit
	entry.TotalCredit = credit
	entry.PostedAt = &postedAt
	entry.PostedBy = &actorID
	entry.Lines = lines
	return entry, nil
}

// CreateAndPost builds and posts an entry in one transaction, the path
// upstream document flows use. A source reference that already produced an
// entry is refused rather than journalled twice.
func (s *Service) CreateAndPost(ctx context.Context, in PostingInput, actorID int64, opts ...PostOption) (Entry, error) {
	if err := in.Validate(); err != nil {
		s.metrics.PostingRejected()
		return Entry{}, err
	}
	var options postOptions
	for _, opt := range opts {
		opt(&options)
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.SourceRef != nil {
			if _, found, err := tx.FindBySourceRef(ctx, *in.SourceRef); err != nil {
				return err
			} else if found {
				return ErrSourceConflict
			}
		}
		inserted, err := tx.InsertEntry(ctx, Entry{
			Date:        in.Date,
			Description: in.Description,
			Reference:   in.Reference,
			Notes:       in.Notes,
			Status:      StatusDraft,
			SourceRef:   in.SourceRef,
		})
		if err != nil {
			return err
		}
		for _, li := range in.Lines {
			if _, err := s.insertLine(ctx, tx, inserted.ID, li); err != nil {
				return err
			}
		}
		entry, err = s.postLocked(ctx, tx, inserted.ID, actorID, options)
		return err
	})
	if err != nil {
		s.metrics.PostingRejected()
		return Entry{}, err
	}
	s.metrics.EntryPosted()
	s.recordAudit(ctx, actorID, "journal.post", entry)
	return entry, nil
}

// ReverseInput describes the correcting entry.
type ReverseInput struct {
	Date        time.Time
	Description string
}

// Reverse posts a new entry with the original's lines swapped side for side
// and marks the original REVERSED, all in one transaction. The original's
// lines stay in force; the pair nets to zero.
func (s *Service) Reverse(ctx context.Context, entryID, actorID int64, in ReverseInput) (Entry, error) {
	var reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if original.ReversedBy != nil {
			return ErrAlreadyReversed
		}
		if original.Status != StatusPosted && original.Status != StatusArchived {
			return fmt.Errorf("%w: %s", ErrInvalidState, original.Status)
		}
		lines, err := tx.ListLines(ctx, entryID)
		if err != nil {
			return err
		}
		date := in.Date
		if date.IsZero() {
			date = original.Date
		}
		if date.Before(original.Date) {
			return fmt.Errorf("%w: reversal dated before %s", ErrInvalidState, original.Number)
		}
		description := in.Description
		if description == "" {
			description = "Reversal of " + original.Number
		}
		inserted, err := tx.InsertEntry(ctx, Entry{
			Date:        date,
			Description: description,
			Reference:   original.Number,
			Status:      StatusDraft,
			ReversalOf:  &original.ID,
		})
		if err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := tx.InsertLine(ctx, Line{
				EntryID:           inserted.ID,
				AccountID:         l.AccountID,
				Description:       l.Description,
				Debit:             l.Credit,
				Credit:            l.Debit,
				AnalyticAccountID: l.AnalyticAccountID,
			}); err != nil {
				return err
			}
		}
		reversal, err = s.postLocked(ctx, tx, inserted.ID, actorID, postOptions{})
		if err != nil {
			return err
		}
		return tx.SetReversal(ctx, original.ID, inserted.ID)
	})
	if err != nil {
		s.metrics.PostingRejected()
		return Entry{}, err
	}
	s.metrics.ReversalPosted()
	s.recordAudit(ctx, actorID, "journal.reverse", reversal)
	return reversal, nil
}

// Archive freezes a posted entry whose period has since closed. Archived
// lines keep contributing to balances.
func (s *Service) Archive(ctx context.Context, entryID, actorID int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Status != StatusPosted && e.Status != StatusReversed {
			return fmt.Errorf("%w: %s", ErrInvalidState, e.Status)
		}
		period, err := tx.GetPeriodForDate(ctx, e.Date)
		if err != nil {
			return err
		}
		if !period.IsClosed {
			return ErrPeriodOpen
		}
		if err := tx.UpdateEntryStatus(ctx, entryID, StatusArchived, e.TotalDebit, e.TotalCredit); err != nil {
			return err
		}
		e.Status = StatusArchived
		entry = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, actorID, "journal.archive", entry)
	return entry, nil
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, entryID int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		e.Lines, err = tx.ListLines(ctx, entryID)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// List returns entries matching the filter, without lines.
func (s *Service) List(ctx context.Context, f EntryFilter) ([]Entry, error) {
	var entries []Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		entries, e = tx.ListEntries(ctx, f)
		return e
	})
	return entries, err
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entry Entry) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: entry.Number,
		Meta: map[string]any{
			"entry_id":     entry.ID,
			"status":       string(entry.Status),
			"total_debit":  entry.TotalDebit,
			"total_credit": entry.TotalCredit,
		},
		At: s.now(),
	})
}
