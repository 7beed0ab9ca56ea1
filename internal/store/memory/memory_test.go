package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"saldo/internal/core"
	"saldo/internal/store/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, New())
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := core.NewUser("u1")
	if _, err := u.AddCategory("Food"); err != nil {
		t.Fatalf("add category: %v", err)
	}
	if err := s.Save(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	u.Categories[0].Name = "mutated after save"

	got, _ := s.Load(ctx, "u1")
	got.Categories[0].Name = "mutated after load"

	again, _ := s.Load(ctx, "u1")
	if again.Categories[0].Name != "Food" {
		t.Fatalf("store shares memory with callers: %q", again.Categories[0].Name)
	}
}

func TestNewFromFilesSeeds(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFromFiles(dir)
	if err != nil {
		t.Fatalf("missing seed file should not fail: %v", err)
	}
	if ids, _ := s.ListUserIDs(context.Background()); len(ids) != 0 {
		t.Fatalf("expected empty store, got %v", ids)
	}

	// Balance and savings are recomputed from the entries.
	seed := `[{"userId":"seeded","balance":999,"ledgers":[{"year":2024,"month":2,
		"transactions":[{"id":"t1","amount":"10","category":"Food","date":"2024-02-01"}],
		"incomes":[{"id":"i1","amount":50,"date":"2024-02-02"}]}]},
		{"userId":""}]`
	if err := os.WriteFile(filepath.Join(dir, "seed_users.json"), []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	s, err = NewFromFiles(dir)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	u, err := s.Load(context.Background(), "seeded")
	if err != nil {
		t.Fatalf("load seeded: %v", err)
	}
	if u.Version != 1 || !u.Balance.Equal(core.MustMoney("40")) || !u.Ledgers[0].Savings.Equal(core.MustMoney("40")) {
		t.Fatalf("unexpected seeded user: %+v", u)
	}
	if u.Categories == nil || u.Labels == nil {
		t.Fatalf("seeded user should have empty, non-nil tag lists")
	}

	if err := os.WriteFile(filepath.Join(dir, "seed_users.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := NewFromFiles(dir); err == nil {
		t.Fatalf("expected error for malformed seed")
	}
}
