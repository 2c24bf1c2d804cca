package balances

import (
	"sort"
)

// TrialBalanceRow is one account's line in the trial balance.
type TrialBalanceRow struct {
	AccountCode string
	Name        string
	Debit       int64
	Credit      int64
}

// TrialBalanceGroup aggregates rows sharing a code prefix for presentation.
type TrialBalanceGroup struct {
	Key    string
	Rows   []TrialBalanceRow
	Debit  int64
	Credit int64
}

// TrialBalance lists every account's period movement. Its debit and credit
// columns sum equally whenever every contributing entry balances.
type TrialBalance struct {
	Groups      []TrialBalanceGroup
	TotalDebit  int64
	TotalCredit int64
}

// groupKey buckets an account under its class, the leading digit of its code.
func groupKey(code string) string {
	if code == "" {
		return code
	}
	return code[:1]
}

// BuildTrialBalance converts per-account movements into the grouped report.
func BuildTrialBalance(movements []Movement) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, m := range movements {
		key := groupKey(m.AccountCode)
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Rows = append(grp.Rows, TrialBalanceRow{
			AccountCode: m.AccountCode,
			Name:        m.Name,
			Debit:       m.Debit,
			Credit:      m.Credit,
		})
		grp.Debit += m.Debit
		grp.Credit += m.Credit
	}

	sort.Strings(keys)
	result := TrialBalance{}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].AccountCode < grp.Rows[j].AccountCode
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit += grp.Debit
		result.TotalCredit += grp.Credit
	}
	return result
}
