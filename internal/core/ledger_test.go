package core

import (
	"errors"
	"math/rand"
	"testing"
)

func tx(amount string, year, month, day int) Transaction {
	return Transaction{Amount: MustMoney(amount), Category: "Food", Date: NewDate(year, month, day)}
}

func income(amount string, year, month, day int) Income {
	return Income{Amount: MustMoney(amount), Date: NewDate(year, month, day)}
}

func assertMoney(t *testing.T, what string, got Money, want string) {
	t.Helper()
	if !got.Equal(MustMoney(want)) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}

func TestLedgerWorkedExample(t *testing.T) {
	u := NewUser("u1")

	inserted, err := u.ApplyTransactionInsert(tx("50", 2024, 3, 15))
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	if inserted.ID == "" {
		t.Fatalf("expected an assigned id")
	}
	l := u.Ledger(2024, 3)
	if l == nil {
		t.Fatalf("expected ledger for 2024-03")
	}
	assertMoney(t, "savings", l.Savings, "-50")
	assertMoney(t, "balance", u.Balance, "-50")

	if _, err := u.ApplyIncomeInsert(income("200", 2024, 3, 20)); err != nil {
		t.Fatalf("insert income: %v", err)
	}
	assertMoney(t, "savings", u.Ledger(2024, 3).Savings, "150")
	assertMoney(t, "balance", u.Balance, "150")

	removed, err := u.ApplyTransactionDelete(inserted.ID, NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	if removed.ID != inserted.ID {
		t.Fatalf("removed %s, want %s", removed.ID, inserted.ID)
	}
	assertMoney(t, "savings", u.Ledger(2024, 3).Savings, "200")
	assertMoney(t, "balance", u.Balance, "200")
}

func TestTransactionInsertAppendsOnce(t *testing.T) {
	u := NewUser("u1")
	for i := 0; i < 3; i++ {
		if _, err := u.ApplyTransactionInsert(tx("1.10", 2024, 5, 1+i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	l := u.Ledger(2024, 5)
	if len(l.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(l.Transactions))
	}
	seen := map[string]bool{}
	for _, tr := range l.Transactions {
		if seen[tr.ID] {
			t.Fatalf("duplicate id %s", tr.ID)
		}
		seen[tr.ID] = true
	}
	if len(u.Ledgers) != 1 {
		t.Fatalf("expected a single ledger, got %d", len(u.Ledgers))
	}
}

func TestInvalidInputLeavesStateUntouched(t *testing.T) {
	u := NewUser("u1")
	if _, err := u.ApplyTransactionInsert(Transaction{Amount: MustMoney("-1"), Category: "Food", Date: NewDate(2024, 1, 1)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := u.ApplyIncomeInsert(Income{Amount: MustMoney("3")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(u.Ledgers) != 0 || !u.Balance.IsZero() {
		t.Fatalf("state changed on invalid input: %+v", u)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	u := NewUser("u1")
	if _, err := u.ApplyTransactionDelete("nope", NewDate(2024, 3, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing ledger, got %v", err)
	}
	if _, err := u.ApplyTransactionInsert(tx("10", 2024, 3, 2)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.ApplyIncomeInsert(income("4", 2024, 3, 2)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := u.ApplyTransactionDelete("nope", NewDate(2024, 3, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}
	if _, err := u.ApplyIncomeDelete("nope", NewDate(2024, 3, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing income, got %v", err)
	}
	if _, err := u.ApplyIncomeDelete("nope", NewDate(2023, 3, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing income ledger, got %v", err)
	}
	if _, err := u.ApplyTransactionDelete("nope", Date{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero date, got %v", err)
	}
	assertMoney(t, "savings", u.Ledger(2024, 3).Savings, "-6")
	assertMoney(t, "balance", u.Balance, "-6")
}

func TestIncomeDeleteReversesInsert(t *testing.T) {
	u := NewUser("u1")
	in, err := u.ApplyIncomeInsert(income("1200.50", 2024, 1, 27))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	assertMoney(t, "balance", u.Balance, "1200.50")
	if _, err := u.ApplyIncomeDelete(in.ID, in.Date); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertMoney(t, "balance", u.Balance, "0")
	assertMoney(t, "savings", u.Ledger(2024, 1).Savings, "0")
	if len(u.Ledger(2024, 1).Incomes) != 0 {
		t.Fatalf("income still present")
	}
}

func TestRoundTripRestoresExactValues(t *testing.T) {
	u := NewUser("u1")
	if _, err := u.ApplyIncomeInsert(income("0.10", 2024, 2, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.ApplyTransactionInsert(tx("0.20", 2024, 2, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	beforeBalance, beforeSavings := u.Balance, u.Ledger(2024, 2).Savings

	inserted, err := u.ApplyTransactionInsert(tx("0.30", 2024, 2, 9))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.ApplyTransactionDelete(inserted.ID, inserted.Date); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !u.Balance.Equal(beforeBalance) || !u.Ledger(2024, 2).Savings.Equal(beforeSavings) {
		t.Fatalf("round trip drifted: balance %s (was %s), savings %s (was %s)",
			u.Balance, beforeBalance, u.Ledger(2024, 2).Savings, beforeSavings)
	}
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	u := NewUser("u1")
	amounts := []string{"0.01", "1.99", "12.50", "100", "7.35"}

	type ref struct {
		id     string
		date   Date
		isSale bool
	}
	var live []ref

	for step := 0; step < 500; step++ {
		month := 1 + rng.Intn(4)
		d := NewDate(2024, month, 1+rng.Intn(28))
		switch op := rng.Intn(4); {
		case op == 0:
			tr, err := u.ApplyTransactionInsert(Transaction{Amount: MustMoney(amounts[rng.Intn(len(amounts))]), Category: "c", Date: d})
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			live = append(live, ref{id: tr.ID, date: tr.Date, isSale: true})
		case op == 1:
			in, err := u.ApplyIncomeInsert(Income{Amount: MustMoney(amounts[rng.Intn(len(amounts))]), Date: d})
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			live = append(live, ref{id: in.ID, date: in.Date})
		case len(live) > 0:
			i := rng.Intn(len(live))
			r := live[i]
			var err error
			if r.isSale {
				_, err = u.ApplyTransactionDelete(r.id, r.date)
			} else {
				_, err = u.ApplyIncomeDelete(r.id, r.date)
			}
			if err != nil {
				t.Fatalf("step %d delete: %v", step, err)
			}
			live = append(live[:i], live[i+1:]...)
		}
		if problems := u.Verify(); len(problems) > 0 {
			t.Fatalf("step %d: invariants broken: %v", step, problems)
		}
	}
}

func TestSnapshot(t *testing.T) {
	u := NewUser("u1")
	empty := u.Snapshot(2024, 7)
	if empty.Transactions == nil || empty.Incomes == nil || len(empty.Transactions) != 0 || len(empty.Incomes) != 0 {
		t.Fatalf("expected empty non-nil lists, got %+v", empty)
	}
	assertMoney(t, "savings", empty.Savings, "0")
	assertMoney(t, "balance", empty.Balance, "0")

	if _, err := u.ApplyIncomeInsert(income("80", 2024, 6, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.ApplyTransactionInsert(tx("30", 2024, 7, 4)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	snap := u.Snapshot(2024, 7)
	if len(snap.Transactions) != 1 || len(snap.Incomes) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	assertMoney(t, "savings", snap.Savings, "-30")
	assertMoney(t, "balance", snap.Balance, "50")

	snap.Transactions[0].Notes = "mutated"
	if u.Ledger(2024, 7).Transactions[0].Notes != "" {
		t.Fatalf("snapshot shares memory with aggregate")
	}

	other := u.Snapshot(2023, 1)
	assertMoney(t, "balance of empty month", other.Balance, "50")
}

func TestLedgersStaySorted(t *testing.T) {
	u := NewUser("u1")
	for _, ym := range [][2]int{{2024, 5}, {2023, 12}, {2024, 1}, {2024, 5}, {2022, 7}} {
		if _, err := u.ApplyTransactionInsert(tx("1", ym[0], ym[1], 1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if len(u.Ledgers) != 4 {
		t.Fatalf("expected 4 ledgers, got %d", len(u.Ledgers))
	}
	if problems := u.Verify(); len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if u.Ledgers[0].Year != 2022 || u.Ledgers[3].Month != 5 {
		t.Fatalf("ledgers not sorted: %+v", u.Ledgers)
	}
}

func TestCategoriesAndLabels(t *testing.T) {
	u := NewUser("u1")
	food, err := u.AddCategory("Food")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := u.AddCategory("Food"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := u.AddCategory(" Food "); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict after trimming, got %v", err)
	}
	if _, err := u.AddCategory("food"); err != nil {
		t.Fatalf("names are case-sensitive, got %v", err)
	}
	if len(u.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %v", u.Categories)
	}
	if _, err := u.AddCategory(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	if _, err := u.ApplyTransactionInsert(Transaction{Amount: MustMoney("3"), Category: "Food", Date: NewDate(2024, 1, 1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.RemoveCategory(food.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := u.RemoveCategory(food.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if u.Ledger(2024, 1).Transactions[0].Category != "Food" {
		t.Fatalf("removing a category must not rewrite transactions")
	}

	lbl, err := u.AddLabel("shared")
	if err != nil {
		t.Fatalf("add label: %v", err)
	}
	if _, err := u.AddLabel("shared"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := u.RemoveLabel(lbl.ID); err != nil {
		t.Fatalf("remove label: %v", err)
	}
	if _, err := u.RemoveLabel(lbl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyAndRecompute(t *testing.T) {
	u := NewUser("u1")
	if _, err := u.ApplyTransactionInsert(tx("10", 2024, 1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := u.ApplyIncomeInsert(income("25", 2024, 2, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	u.Balance = MustMoney("999")
	u.Ledgers[1].Savings = MustMoney("1")
	if problems := u.Verify(); len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", problems)
	}

	u.Recompute()
	if problems := u.Verify(); len(problems) != 0 {
		t.Fatalf("expected clean aggregate, got %v", problems)
	}
	assertMoney(t, "balance", u.Balance, "15")
}

func TestFindEntries(t *testing.T) {
	u := NewUser("u1")
	tr, _ := u.ApplyTransactionInsert(tx("2", 2024, 4, 4))
	in, _ := u.ApplyIncomeInsert(income("3", 2024, 5, 5))

	if got, ok := u.FindTransaction(tr.ID); !ok || got.Date.Month() != 4 {
		t.Fatalf("transaction not found: %v %v", got, ok)
	}
	if got, ok := u.FindIncome(in.ID); !ok || got.Date.Month() != 5 {
		t.Fatalf("income not found: %v %v", got, ok)
	}
	if _, ok := u.FindTransaction(in.ID); ok {
		t.Fatalf("income id must not resolve as transaction")
	}
}
