package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// MonthSnapshot is the read model for one month of one user.
type MonthSnapshot struct {
	Year         int           `json:"year"`
	Month        int           `json:"month"`
	Transactions []Transaction `json:"transactions"`
	Incomes      []Income      `json:"incomes"`
	Savings      Money         `json:"savings"`
	Balance      Money         `json:"balance"`
}

// EmptySnapshot is what a month without any activity looks like.
func EmptySnapshot(year, month int, balance Money) MonthSnapshot {
	return MonthSnapshot{
		Year:         year,
		Month:        month,
		Transactions: []Transaction{},
		Incomes:      []Income{},
		Balance:      balance,
	}
}

// Ledger returns the ledger for year/month, or nil.
func (u *User) Ledger(year, month int) *MonthlyLedger {
	i, ok := u.ledgerIndex(year, month)
	if !ok {
		return nil
	}
	return &u.Ledgers[i]
}

// ledgerIndex searches Ledgers, which are kept sorted by (year, month).
func (u *User) ledgerIndex(year, month int) (int, bool) {
	return slices.BinarySearchFunc(u.Ledgers, year*12+month, func(l MonthlyLedger, key int) int {
		return l.Year*12 + l.Month - key
	})
}

func (u *User) ledgerFor(d Date) *MonthlyLedger {
	year, month := d.Year(), d.Month()
	i, ok := u.ledgerIndex(year, month)
	if !ok {
		u.Ledgers = slices.Insert(u.Ledgers, i, MonthlyLedger{
			Year:         year,
			Month:        month,
			Transactions: []Transaction{},
			Incomes:      []Income{},
		})
	}
	return &u.Ledgers[i]
}

// ApplyTransactionInsert appends tx to its month exactly once and debits
// the month's savings and the user's balance. A fresh id is always assigned.
func (u *User) ApplyTransactionInsert(tx Transaction) (Transaction, error) {
	tx.Category = strings.TrimSpace(tx.Category)
	tx.Label = strings.TrimSpace(tx.Label)
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	tx.ID = uuid.NewString()

	l := u.ledgerFor(tx.Date)
	l.Transactions = append(l.Transactions, tx)
	l.Savings = l.Savings.Sub(tx.Amount)
	u.Balance = u.Balance.Sub(tx.Amount)
	return tx, nil
}

// ApplyTransactionDelete removes transaction id from the month of d and
// credits its amount back.
func (u *User) ApplyTransactionDelete(id string, d Date) (Transaction, error) {
	if err := d.Validate(); err != nil {
		return Transaction{}, err
	}
	l := u.Ledger(d.Year(), d.Month())
	if l == nil {
		return Transaction{}, fmt.Errorf("%w: no ledger for %04d-%02d", ErrNotFound, d.Year(), d.Month())
	}
	i := slices.IndexFunc(l.Transactions, func(t Transaction) bool { return t.ID == id })
	if i < 0 {
		return Transaction{}, fmt.Errorf("%w: transaction %s in %04d-%02d", ErrNotFound, id, d.Year(), d.Month())
	}
	tx := l.Transactions[i]
	l.Transactions = slices.Delete(l.Transactions, i, i+1)
	l.Savings = l.Savings.Add(tx.Amount)
	u.Balance = u.Balance.Add(tx.Amount)
	return tx, nil
}

// ApplyIncomeInsert appends in to its month and credits savings and balance.
func (u *User) ApplyIncomeInsert(in Income) (Income, error) {
	if err := in.Validate(); err != nil {
		return Income{}, err
	}
	in.ID = uuid.NewString()

	l := u.ledgerFor(in.Date)
	l.Incomes = append(l.Incomes, in)
	l.Savings = l.Savings.Add(in.Amount)
	u.Balance = u.Balance.Add(in.Amount)
	return in, nil
}

// ApplyIncomeDelete is the reverse of ApplyIncomeInsert.
func (u *User) ApplyIncomeDelete(id string, d Date) (Income, error) {
	if err := d.Validate(); err != nil {
		return Income{}, err
	}
	l := u.Ledger(d.Year(), d.Month())
	if l == nil {
		return Income{}, fmt.Errorf("%w: no ledger for %04d-%02d", ErrNotFound, d.Year(), d.Month())
	}
	i := slices.IndexFunc(l.Incomes, func(in Income) bool { return in.ID == id })
	if i < 0 {
		return Income{}, fmt.Errorf("%w: income %s in %04d-%02d", ErrNotFound, id, d.Year(), d.Month())
	}
	in := l.Incomes[i]
	l.Incomes = slices.Delete(l.Incomes, i, i+1)
	l.Savings = l.Savings.Sub(in.Amount)
	u.Balance = u.Balance.Sub(in.Amount)
	return in, nil
}

// FindTransaction looks a transaction up across all months.
func (u *User) FindTransaction(id string) (Transaction, bool) {
	for _, l := range u.Ledgers {
		for _, t := range l.Transactions {
			if t.ID == id {
				return t, true
			}
		}
	}
	return Transaction{}, false
}

// FindIncome looks an income up across all months.
func (u *User) FindIncome(id string) (Income, bool) {
	for _, l := range u.Ledgers {
		for _, in := range l.Incomes {
			if in.ID == id {
				return in, true
			}
		}
	}
	return Income{}, false
}

// Snapshot returns a copy of the month's entries with the current balance.
// A month without a ledger yields an empty snapshot, never an error.
func (u *User) Snapshot(year, month int) MonthSnapshot {
	l := u.Ledger(year, month)
	if l == nil {
		return EmptySnapshot(year, month, u.Balance)
	}
	return MonthSnapshot{
		Year:         year,
		Month:        month,
		Transactions: append([]Transaction{}, l.Transactions...),
		Incomes:      append([]Income{}, l.Incomes...),
		Savings:      l.Savings,
		Balance:      u.Balance,
	}
}

func (u *User) AddCategory(name string) (Tag, error) {
	return addTag(&u.Categories, "category", name)
}

func (u *User) AddLabel(name string) (Tag, error) {
	return addTag(&u.Labels, "label", name)
}

// RemoveCategory deletes by id. Transactions that mention the name keep it.
func (u *User) RemoveCategory(id string) (Tag, error) {
	return removeTag(&u.Categories, "category", id)
}

func (u *User) RemoveLabel(id string) (Tag, error) {
	return removeTag(&u.Labels, "label", id)
}

func addTag(tags *[]Tag, kind, name string) (Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tag{}, fmt.Errorf("%w: empty %s name", ErrInvalidInput, kind)
	}
	if len(name) > maxNameLength {
		return Tag{}, fmt.Errorf("%w: %s name too long (max %d characters)", ErrInvalidInput, kind, maxNameLength)
	}
	if slices.ContainsFunc(*tags, func(t Tag) bool { return t.Name == name }) {
		return Tag{}, fmt.Errorf("%w: %s %q already exists", ErrConflict, kind, name)
	}
	t := Tag{ID: uuid.NewString(), Name: name}
	*tags = append(*tags, t)
	return t, nil
}

func removeTag(tags *[]Tag, kind, id string) (Tag, error) {
	i := slices.IndexFunc(*tags, func(t Tag) bool { return t.ID == id })
	if i < 0 {
		return Tag{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	t := (*tags)[i]
	*tags = slices.Delete(*tags, i, i+1)
	return t, nil
}

// Verify reports every violated accounting invariant. An empty result means
// savings and balance agree with the stored entries.
func (u *User) Verify() []string {
	var problems []string
	var total Money
	for _, l := range u.Ledgers {
		want := ledgerSavings(l)
		if !l.Savings.Equal(want) {
			problems = append(problems, fmt.Sprintf("%04d-%02d: savings %s, entries sum to %s", l.Year, l.Month, l.Savings, want))
		}
		total = total.Add(l.Savings)
	}
	if !u.Balance.Equal(total) {
		problems = append(problems, fmt.Sprintf("balance %s, ledgers sum to %s", u.Balance, total))
	}
	for i := 1; i < len(u.Ledgers); i++ {
		prev, cur := u.Ledgers[i-1], u.Ledgers[i]
		if prev.Year*12+prev.Month >= cur.Year*12+cur.Month {
			problems = append(problems, fmt.Sprintf("ledger %04d-%02d out of order or duplicated", cur.Year, cur.Month))
		}
	}
	return problems
}

// Recompute rebuilds every savings total and the balance from the entries.
func (u *User) Recompute() {
	slices.SortStableFunc(u.Ledgers, func(a, b MonthlyLedger) int {
		return (a.Year*12 + a.Month) - (b.Year*12 + b.Month)
	})
	var total Money
	for i := range u.Ledgers {
		u.Ledgers[i].Savings = ledgerSavings(u.Ledgers[i])
		total = total.Add(u.Ledgers[i].Savings)
	}
	u.Balance = total
}

func ledgerSavings(l MonthlyLedger) Money {
	var s Money
	for _, in := range l.Incomes {
		s = s.Add(in.Amount)
	}
	for _, t := range l.Transactions {
		s = s.Sub(t.Amount)
	}
	return s
}
