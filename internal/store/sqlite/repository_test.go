package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"saldo/internal/core"
	"saldo/internal/store/storetest"
)

func newTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "saldo.db")
	repo, err := NewRepository(path)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestSQLiteRepositoryContract(t *testing.T) {
	repo, _ := newTestRepo(t)
	storetest.Run(t, repo)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	repo, path := newTestRepo(t)
	ctx := context.Background()

	u := core.NewUser("u1")
	if _, err := u.ApplyIncomeInsert(core.Income{Amount: core.MustMoney("0.10"), Date: core.NewDate(2023, 12, 31)}); err != nil {
		t.Fatalf("income: %v", err)
	}
	if _, err := u.AddLabel("Holiday"); err != nil {
		t.Fatalf("label: %v", err)
	}
	if err := repo.Save(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Migrations must be idempotent on an existing file.
	reopened, err := NewRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Balance.Equal(core.MustMoney("0.10")) || len(got.Labels) != 1 || got.Labels[0].Name != "Holiday" {
		t.Fatalf("unexpected user after reopen: %+v", got)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
