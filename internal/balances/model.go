package balances

import (
	"errors"
	"time"

	"github.com/grandlivre/grandlivre/internal/coa"
)

// ErrAccountNotFound indicates the requested account has no balance row.
var ErrAccountNotFound = errors.New("balances: account not found")

// Delta converts a journal line amount into a signed adjustment for the
// account's running balance: positive when the line side matches the
// account's normal side, negative otherwise.
func Delta(lineSide coa.Side, normalSide coa.Side, amount int64) int64 {
	if lineSide == normalSide {
		return amount
	}
	return -amount
}

// AccountBalance is an account's running balance expressed on its normal side.
type AccountBalance struct {
	AccountID   int64
	AccountCode string
	Name        string
	Type        coa.AccountType
	Balance     int64
	AsOf        time.Time
}

// Movement is one account's debit/credit activity over a period, together
// with the opening balance carried on the account's normal side.
type Movement struct {
	AccountID   int64
	AccountCode string
	Name        string
	Type        coa.AccountType
	Opening     int64
	Debit       int64
	Credit      int64
}

// NetDebit returns the account's balance over the window expressed on the
// debit side: posted movement plus the opening balance folded in from the
// account's normal side. Zero means the account holds no balance to sweep.
func (m Movement) NetDebit() int64 {
	net := m.Debit - m.Credit
	if m.Type.NormalSide() == coa.SideDebit {
		return net + m.Opening
	}
	return net - m.Opening
}
