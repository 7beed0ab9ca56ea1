// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"saldo/internal/core"
	"saldo/internal/store"
)

// Run exercises the repository contract against a fresh, empty repo.
func Run(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()

	if _, err := repo.Load(ctx, "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("load of missing user: expected not found, got %v", err)
	}

	u, err := repo.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u.Version != 0 || len(u.Ledgers) != 0 {
		t.Fatalf("expected fresh user, got %+v", u)
	}
	if _, err := u.ApplyTransactionInsert(core.Transaction{
		Amount:   core.MustMoney("12.34"),
		Category: "Food",
		Date:     core.NewDate(2024, 5, 3),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Save(ctx, u); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if u.Version != 1 || u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Fatalf("save did not stamp user: version=%d created=%v", u.Version, u.CreatedAt)
	}

	got, err := repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 || !got.Balance.Equal(core.MustMoney("-12.34")) {
		t.Fatalf("unexpected loaded user: version=%d balance=%s", got.Version, got.Balance)
	}
	if len(got.Ledgers) != 1 || len(got.Ledgers[0].Transactions) != 1 || got.Ledgers[0].Incomes == nil {
		t.Fatalf("unexpected ledgers: %+v", got.Ledgers)
	}
	if v := got.Verify(); len(v) != 0 {
		t.Fatalf("loaded user violates invariants: %v", v)
	}

	// A stale copy must lose against the newer write.
	stale := got.Clone()
	if _, err := got.ApplyIncomeInsert(core.Income{Amount: core.MustMoney("100"), Date: core.NewDate(2024, 5, 4)}); err != nil {
		t.Fatalf("income: %v", err)
	}
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := repo.Save(ctx, stale); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale save: expected version conflict, got %v", err)
	}

	// Two creators racing on the same id: only one insert wins.
	dup := core.NewUser("alice")
	if err := repo.Save(ctx, dup); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("duplicate create: expected version conflict, got %v", err)
	}

	bob := core.NewUser("bob")
	if err := repo.Save(ctx, bob); err != nil {
		t.Fatalf("save bob: %v", err)
	}
	ids, err := repo.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	final, err := repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Version != 2 || !final.Balance.Equal(core.MustMoney("87.66")) {
		t.Fatalf("unexpected final state: version=%d balance=%s", final.Version, final.Balance)
	}
}
