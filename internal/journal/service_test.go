package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/periods"
)

type memoryJournalRepo struct {
	entries  map[int64]Entry
	lines    map[int64][]Line
	accounts map[int64]coa.Account
	balances map[int64]int64
	periods  []periods.Period
	nextID   int64
}

func (r *memoryJournalRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, &memoryJournalTx{repo: r}); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryJournalRepo) clone() *memoryJournalRepo {
	c := &memoryJournalRepo{
		entries:  make(map[int64]Entry, len(r.entries)),
		lines:    make(map[int64][]Line, len(r.lines)),
		accounts: make(map[int64]coa.Account, len(r.accounts)),
		balances: make(map[int64]int64, len(r.balances)),
		periods:  append([]periods.Period(nil), r.periods...),
		nextID:   r.nextID,
	}
	for id, e := range r.entries {
		c.entries[id] = e
	}
	for id, ls := range r.lines {
		c.lines[id] = append([]Line(nil), ls...)
	}
	for id, a := range r.accounts {
		c.accounts[id] = a
	}
	for id, b := range r.balances {
		c.balances[id] = b
	}
	return c
}

type memoryJournalTx struct {
	repo *memoryJournalRepo
}

func (t *memoryJournalTx) InsertEntry(_ context.Context, e Entry) (Entry, error) {
	if e.SourceRef != nil {
		for _, existing := range t.repo.entries {
			if existing.SourceRef != nil && *existing.SourceRef == *e.SourceRef {
				return Entry{}, ErrSourceConflict
			}
		}
	}
	t.repo.nextID++
	e.ID = t.repo.nextID
	e.Number = "JE-" + uuid.NewString()[:6]
	t.repo.entries[e.ID] = e
	return e, nil
}

func (t *memoryJournalTx) GetEntry(_ context.Context, id int64) (Entry, error) {
	e, ok := t.repo.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (t *memoryJournalTx) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return t.GetEntry(ctx, id)
}

func (t *memoryJournalTx) ListEntries(_ context.Context, f EntryFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range t.repo.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *memoryJournalTx) ListLines(_ context.Context, entryID int64) ([]Line, error) {
	return append([]Line(nil), t.repo.lines[entryID]...), nil
}

func (t *memoryJournalTx) InsertLine(_ context.Context, l Line) (Line, error) {
	t.repo.nextID++
	l.ID = t.repo.nextID
	if l.AccountCode == "" {
		l.AccountCode = t.repo.accounts[l.AccountID].Code
	}
	t.repo.lines[l.EntryID] = append(t.repo.lines[l.EntryID], l)
	return l, nil
}

func (t *memoryJournalTx) DeleteLine(_ context.Context, entryID, lineID int64) error {
	lines := t.repo.lines[entryID]
	for i, l := range lines {
		if l.ID == lineID {
			t.repo.lines[entryID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryJournalTx) UpdateEntryStatus(_ context.Context, id int64, status Status, totalDebit, totalCredit int64) error {
	e, ok := t.repo.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.TotalDebit = totalDebit
	e.TotalCredit = totalCredit
	t.repo.entries[id] = e
	return nil
}

func (t *memoryJournalTx) MarkPosted(_ context.Context, id int64, actorID int64, at time.Time) error {
	e, ok := t.repo.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = StatusPosted
	e.PostedAt = &at
	e.PostedBy = &actorID
	t.repo.entries[id] = e
	return nil
}

func (t *memoryJournalTx) SetReversal(_ context.Context, originalID, reversalID int64) error {
	e, ok := t.repo.entries[originalID]
	if !ok {
		return ErrNotFound
	}
	e.Status = StatusReversed
	e.ReversedBy = &reversalID
	t.repo.entries[originalID] = e
	return nil
}

func (t *memoryJournalTx) FindBySourceRef(_ context.Context, ref uuid.UUID) (int64, bool, error) {
	for id, e := range t.repo.entries {
		if e.SourceRef != nil && *e.SourceRef == ref {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *memoryJournalTx) GetAccountByCode(_ context.Context, code string) (coa.Account, error) {
	for _, a := range t.repo.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return coa.Account{}, coa.ErrNotFound
}

func (t *memoryJournalTx) GetAccountByID(_ context.Context, id int64) (coa.Account, error) {
	a, ok := t.repo.accounts[id]
	if !ok {
		return coa.Account{}, coa.ErrNotFound
	}
	return a, nil
}

func (t *memoryJournalTx) GetAccountForUpdate(_ context.Context, id int64) (coa.Account, error) {
	a, ok := t.repo.accounts[id]
	if !ok {
		return coa.Account{}, coa.ErrNotFound
	}
	return a, nil
}

func (t *memoryJournalTx) GetPeriodForDate(_ context.Context, date time.Time) (periods.Period, error) {
	for _, p := range t.repo.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNotOpen
}

func (t *memoryJournalTx) BalanceForUpdate(_ context.Context, accountID int64) (int64, error) {
	b, ok := t.repo.balances[accountID]
	if !ok {
		return 0, coa.ErrNotFound
	}
	return b, nil
}

func (t *memoryJournalTx) ApplyBalanceDelta(_ context.Context, accountID, delta int64) error {
	if _, ok := t.repo.balances[accountID]; !ok {
		return coa.ErrNotFound
	}
	t.repo.balances[accountID] += delta
	return nil
}

func testDate(d int) time.Time {
	return time.Date(2024, time.July, d, 0, 0, 0, 0, time.UTC)
}

func newJournalFixture() (*Service, *memoryJournalRepo) {
	repo := &memoryJournalRepo{
		entries: make(map[int64]Entry),
		lines:   make(map[int64][]Line),
		accounts: map[int64]coa.Account{
			1: {ID: 1, Code: "501", Name: "Cash", Type: coa.AccountTypeAsset, IsActive: true},
			2: {ID: 2, Code: "701", Name: "Sales", Type: coa.AccountTypeRevenue, IsActive: true},
			3: {ID: 3, Code: "601", Name: "Purchases", Type: coa.AccountTypeExpense, IsActive: true},
			4: {ID: 4, Code: "419", Name: "Suspense", Type: coa.AccountTypeAsset, IsActive: false},
			5: {ID: 5, Code: "512", Name: "Bank", Type: coa.AccountTypeAsset, IsActive: true, AllowNegative: true},
			6: {ID: 6, Code: "920", Name: "Workshop", Type: coa.AccountTypeExpense, IsActive: true, IsAnalytic: true},
		},
		balances: map[int64]int64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0, 6: 0},
		periods: []periods.Period{
			{ID: 1, Number: 6, StartDate: testDate(1).AddDate(0, -1, 0), EndDate: testDate(1).AddDate(0, 0, -1), IsClosed: true},
			{ID: 2, Number: 7, StartDate: testDate(1), EndDate: testDate(31)},
		},
	}
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return testDate(15) })
	return svc, repo
}

func saleLines(amount int64) []LineInput {
	return []LineInput{
		{AccountCode: "501", Debit: amount, Description: "cash in"},
		{AccountCode: "701", Credit: amount, Description: "sale"},
	}
}

func TestDraftLifecycle(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateDraft(ctx, DraftInput{Date: testDate(10), Description: "July sale"})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, entry.Status)
	require.NotEmpty(t, entry.Number)

	_, err = svc.AddLine(ctx, entry.ID, LineInput{AccountCode: "501", Debit: 100000})
	require.NoError(t, err)
	extra, err := svc.AddLine(ctx, entry.ID, LineInput{AccountCode: "701", Credit: 60000})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, entry.ID, LineInput{AccountCode: "701", Credit: 40000})
	require.NoError(t, err)

	// Drafts never touch balances.
	require.Zero(t, repo.balances[1])

	validated, err := svc.ValidateBalance(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusBalanced, validated.Status)
	require.Equal(t, int64(100000), validated.TotalDebit)

	// Mutating a balanced entry demotes it back to draft.
	require.NoError(t, svc.RemoveLine(ctx, entry.ID, extra.ID))
	got, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Len(t, got.Lines, 2)
}

func TestValidateBalanceRejectsUnbalanced(t *testing.T) {
	svc, _ := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateDraft(ctx, DraftInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 60000},
		{AccountCode: "501", Credit: 50000},
	}})
	require.NoError(t, err)

	_, err = svc.ValidateBalance(ctx, entry.ID)
	require.ErrorIs(t, err, ErrUnbalanced)

	// The failed validation leaves the draft untouched.
	got, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestValidateBalanceRequiresTwoLines(t *testing.T) {
	svc, _ := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateDraft(ctx, DraftInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "501", Debit: 1000},
	}})
	require.NoError(t, err)

	_, err = svc.ValidateBalance(ctx, entry.ID)
	require.ErrorIs(t, err, ErrTooFewLines)
}

func TestLineInputOneSideRule(t *testing.T) {
	require.ErrorIs(t, LineInput{AccountCode: "501"}.Validate(), ErrBadLine)
	require.ErrorIs(t, LineInput{AccountCode: "501", Debit: 10, Credit: 10}.Validate(), ErrBadLine)
	require.ErrorIs(t, LineInput{AccountCode: "501", Debit: -10}.Validate(), ErrBadLine)
	require.NoError(t, LineInput{AccountCode: "501", Debit: 1}.Validate())
}

func TestPostAppliesBalances(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateDraft(ctx, DraftInput{Date: testDate(10), Lines: saleLines(100000)})
	require.NoError(t, err)
	_, err = svc.ValidateBalance(ctx, entry.ID)
	require.NoError(t, err)

	posted, err := svc.Post(ctx, entry.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)
	require.Equal(t, int64(42), *posted.PostedBy)
	require.Equal(t, posted.TotalDebit, posted.TotalCredit)

	// Cash (debit normal) up, sales (credit normal) up.
	require.Equal(t, int64(100000), repo.balances[1])
	require.Equal(t, int64(100000), repo.balances[2])
}

func TestPostTwiceRejected(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: saleLines(50000)}, 1)
	require.NoError(t, err)

	_, err = svc.Post(ctx, entry.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)

	// Balances were applied exactly once.
	require.Equal(t, int64(50000), repo.balances[1])
}

func TestPostRejectsClosedOrLockedPeriod(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	// June is closed.
	closedDate := testDate(1).AddDate(0, 0, -5)
	_, err := svc.CreateAndPost(ctx, PostingInput{Date: closedDate, Lines: saleLines(1000)}, 1)
	require.ErrorIs(t, err, periods.ErrNotOpen)

	// The override admits closed periods.
	_, err = svc.CreateAndPost(ctx, PostingInput{Date: closedDate, Lines: saleLines(1000)}, 1, AllowClosedPeriod())
	require.NoError(t, err)

	// A locked period refuses even with the override.
	now := testDate(15)
	repo.periods[0].LockedAt = &now
	_, err = svc.CreateAndPost(ctx, PostingInput{Date: closedDate, Lines: saleLines(1000)}, 1, AllowClosedPeriod())
	require.ErrorIs(t, err, periods.ErrNotOpen)
}

func TestPostRejectsInactiveAccount(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "419", Debit: 1000},
		{AccountCode: "701", Credit: 1000},
	}}, 1)
	require.ErrorIs(t, err, ErrAccountInactive)
	require.Zero(t, repo.balances[2])
}

func TestAnalyticTagMustResolve(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	ghost := int64(999)
	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 1000, AnalyticAccountID: &ghost},
		{AccountCode: "512", Credit: 1000},
	}}, 1)
	require.ErrorIs(t, err, ErrAnalyticAccount)
	require.Zero(t, repo.balances[3])

	// Tagging a regular (non-analytic) account is refused too.
	cash := int64(1)
	_, err = svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "701", Credit: 1000},
		{AccountCode: "501", Debit: 1000, AnalyticAccountID: &cash},
	}}, 1)
	require.ErrorIs(t, err, ErrAnalyticAccount)

	workshop := int64(6)
	entry, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 1000, AnalyticAccountID: &workshop},
		{AccountCode: "512", Credit: 1000},
	}}, 1)
	require.NoError(t, err)
	require.Equal(t, workshop, *entry.Lines[0].AnalyticAccountID)
}

func TestPostRejectsOverdraw(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	// Crediting empty cash would drive it negative.
	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 5000},
		{AccountCode: "501", Credit: 5000},
	}}, 1)
	require.ErrorIs(t, err, ErrNegativeBalance)
	require.Zero(t, repo.balances[1])
	require.Zero(t, repo.balances[3])

	// The bank account allows overdraft.
	_, err = svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 5000},
		{AccountCode: "512", Credit: 5000},
	}}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(-5000), repo.balances[5])
}

func TestCreateAndPostValidation(t *testing.T) {
	svc, _ := newJournalFixture()
	ctx := context.Background()

	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "601", Debit: 60000},
		{AccountCode: "501", Credit: 50000},
	}}, 1)
	require.ErrorIs(t, err, ErrUnbalanced)

	_, err = svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: saleLines(0)}, 1)
	require.ErrorIs(t, err, ErrBadLine)
}

func TestSourceRefDeduplicates(t *testing.T) {
	svc, _ := newJournalFixture()
	ctx := context.Background()
	ref := uuid.New()

	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), SourceRef: &ref, Lines: saleLines(2000)}, 1)
	require.NoError(t, err)

	_, err = svc.CreateAndPost(ctx, PostingInput{Date: testDate(11), SourceRef: &ref, Lines: saleLines(2000)}, 1)
	require.ErrorIs(t, err, ErrSourceConflict)

	_, err = svc.CreateDraft(ctx, DraftInput{Date: testDate(12), SourceRef: &ref})
	require.ErrorIs(t, err, ErrSourceConflict)
}

func TestReverseNetsToZero(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	original, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: saleLines(75000)}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(75000), repo.balances[1])

	reversal, err := svc.Reverse(ctx, original.ID, 2, ReverseInput{})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, reversal.Status)
	require.Equal(t, original.ID, *reversal.ReversalOf)

	// The pair nets account balances back to zero.
	require.Zero(t, repo.balances[1])
	require.Zero(t, repo.balances[2])

	// Original is marked, its lines untouched.
	got, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReversed, got.Status)
	require.Equal(t, reversal.ID, *got.ReversedBy)
	require.Len(t, got.Lines, 2)

	_, err = svc.Reverse(ctx, original.ID, 2, ReverseInput{})
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestReverseRequiresPostedEntry(t *testing.T) {
	svc, _ := newJournalFixture()
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, DraftInput{Date: testDate(10), Lines: saleLines(1000)})
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, draft.ID, 1, ReverseInput{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReverseRejectsEarlierDate(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	original, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(20), Lines: saleLines(1000)}, 1)
	require.NoError(t, err)

	// A reversal carries the original's date or later, never earlier.
	_, err = svc.Reverse(ctx, original.ID, 1, ReverseInput{Date: testDate(5)})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, int64(1000), repo.balances[1])

	reversal, err := svc.Reverse(ctx, original.ID, 1, ReverseInput{Date: testDate(25)})
	require.NoError(t, err)
	require.Equal(t, testDate(25), reversal.Date)
	require.Zero(t, repo.balances[1])
}

func TestArchiveRequiresClosedPeriod(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	entry, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: saleLines(3000)}, 1)
	require.NoError(t, err)

	_, err = svc.Archive(ctx, entry.ID, 1)
	require.ErrorIs(t, err, ErrPeriodOpen)

	repo.periods[1].IsClosed = true
	archived, err := svc.Archive(ctx, entry.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, archived.Status)

	// Archived lines keep contributing to balances.
	require.Equal(t, int64(3000), repo.balances[1])
}

func TestFailedPostLeavesNoPartialEffect(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	// Second line hits the inactive suspense account after the first would
	// have moved cash. The rollback must undo everything.
	_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: []LineInput{
		{AccountCode: "501", Debit: 9000},
		{AccountCode: "419", Credit: 9000},
	}}, 1)
	require.Error(t, err)
	require.Zero(t, repo.balances[1])
	require.Zero(t, repo.balances[4])
	require.Empty(t, repo.lines)
}

func TestIncrementalBalanceMatchesReplay(t *testing.T) {
	svc, repo := newJournalFixture()
	ctx := context.Background()

	amounts := []int64{10000, 2500, 400}
	for _, amount := range amounts {
		_, err := svc.CreateAndPost(ctx, PostingInput{Date: testDate(10), Lines: saleLines(amount)}, 1)
		require.NoError(t, err)
	}

	// Replay every posted line through Delta and compare with the running row.
	var replayed int64
	for entryID, entry := range repo.entries {
		if !entry.Status.Affects() {
			continue
		}
		for _, l := range repo.lines[entryID] {
			if l.AccountID != 1 {
				continue
			}
			if l.Debit != 0 {
				replayed += l.Debit
			} else {
				replayed -= l.Credit
			}
		}
	}
	require.Equal(t, replayed, repo.balances[1])
	require.Equal(t, int64(12900), repo.balances[1])
}
