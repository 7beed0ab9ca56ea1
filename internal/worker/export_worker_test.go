package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/core"
	applog "saldo/internal/log"
	"saldo/internal/sheets"
	sheetmem "saldo/internal/sheets/memory"
	storemem "saldo/internal/store/memory"
)

func seedUser(t *testing.T, repo *storemem.Store, userID string, amounts ...string) *core.User {
	t.Helper()
	u := core.NewUser(userID)
	for _, a := range amounts {
		if _, err := u.ApplyTransactionInsert(core.Transaction{
			Amount:   core.MustMoney(a),
			Category: "food",
			Date:     core.NewDate(2026, 2, 3),
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := repo.Save(context.Background(), u); err != nil {
		t.Fatalf("save: %v", err)
	}
	return u
}

func TestHandleEvent_UpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	exp := sheetmem.New()
	w := NewExportWorker(storemem.New(), exp, 10)

	u := core.NewUser("alice")
	tx, err := u.ApplyTransactionInsert(core.Transaction{
		Amount: core.MustMoney("4.20"), Category: "coffee", Label: "work", Date: core.NewDate(2026, 5, 1),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := w.HandleEvent(ctx, amqp.NewTransactionEvent(amqp.EventTransactionCreated, u, tx)); err != nil {
		t.Fatalf("HandleEvent created: %v", err)
	}
	row, ok := exp.Row(tx.ID)
	if !ok {
		t.Fatal("row not exported")
	}
	if row.Kind != sheets.KindTransaction || row.Label != "work" || !row.Amount.Equal(core.MustMoney("4.20")) {
		t.Errorf("unexpected row %+v", row)
	}

	if err := w.HandleEvent(ctx, amqp.NewTransactionEvent(amqp.EventTransactionDeleted, u, tx)); err != nil {
		t.Fatalf("HandleEvent deleted: %v", err)
	}
	if _, ok := exp.Row(tx.ID); ok {
		t.Error("row should be gone")
	}
}

type failingExporter struct {
	*sheetmem.Store
	err error
}

func (f failingExporter) UpsertEntry(context.Context, sheets.EntryRow) (string, error) {
	return "", f.err
}

func TestHandleEvent_ExportErrorIsReturned(t *testing.T) {
	boom := errors.New("sheets down")
	w := NewExportWorker(storemem.New(), failingExporter{Store: sheetmem.New(), err: boom}, 10)

	u := core.NewUser("alice")
	in, _ := u.ApplyIncomeInsert(core.Income{Amount: core.MustMoney("100"), Date: core.NewDate(2026, 1, 1)})

	err := w.HandleEvent(context.Background(), amqp.NewIncomeEvent(amqp.EventIncomeCreated, u, in))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestReconcile_AddsMissingAndRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	repo := storemem.New()
	alice := seedUser(t, repo, "alice", "1", "2")
	seedUser(t, repo, "bob", "3")

	exp := sheetmem.New()
	existing := sheets.RowsFromUser(alice)[0]
	if _, err := exp.UpsertEntry(ctx, existing); err != nil {
		t.Fatal(err)
	}
	if _, err := exp.UpsertEntry(ctx, sheets.EntryRow{EntryID: "gone", UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	w := NewExportWorker(repo, exp, 10)
	res, err := w.Reconcile(ctx, 10)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := ReconcileResult{Users: 2, Upserted: 2, Deleted: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	ids, _ := exp.ListEntryIDs(ctx)
	if len(ids) != 3 {
		t.Errorf("exported ids = %v, want 3", ids)
	}
	if _, ok := exp.Row("gone"); ok {
		t.Error("orphan row should be deleted")
	}

	// Second pass is a no-op.
	res, err = w.Reconcile(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res != (ReconcileResult{Users: 2}) {
		t.Errorf("second pass = %+v", res)
	}
}

func TestReconcile_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	repo := storemem.New()
	seedUser(t, repo, "alice", "1", "2", "3", "4", "5")
	exp := sheetmem.New()
	w := NewExportWorker(repo, exp, 2)

	res, err := w.Reconcile(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Upserted != 2 || res.Pending != 3 {
		t.Errorf("result = %+v, want 2 upserted and 3 pending", res)
	}

	if err := w.StartupSync(ctx); err != nil {
		t.Fatal(err)
	}
	ids, _ := exp.ListEntryIDs(ctx)
	if len(ids) != 5 {
		t.Errorf("exported %d entries, want 5", len(ids))
	}
}

func TestReconcile_CountsExportErrors(t *testing.T) {
	repo := storemem.New()
	seedUser(t, repo, "alice", "1")
	w := NewExportWorker(repo, failingExporter{Store: sheetmem.New(), err: errors.New("quota")}, 10)

	res, err := w.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 1 || res.Upserted != 0 {
		t.Errorf("result = %+v", res)
	}
}

type fakeSource struct {
	events []*amqp.LedgerEvent
}

func (f *fakeSource) ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error {
	for _, ev := range f.events {
		if err := handler(ctx, ev); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	u := core.NewUser("alice")
	in, _ := u.ApplyIncomeInsert(core.Income{Amount: core.MustMoney("50"), Date: core.NewDate(2026, 3, 1)})
	src := &fakeSource{events: []*amqp.LedgerEvent{amqp.NewIncomeEvent(amqp.EventIncomeCreated, u, in)}}

	exp := sheetmem.New()
	w := NewExportWorker(storemem.New(), exp, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, src, time.Hour) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := exp.Row(in.ID); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event was not exported")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRowFromEvent(t *testing.T) {
	u := core.NewUser("alice")
	tx, _ := u.ApplyTransactionInsert(core.Transaction{
		Amount: core.MustMoney("9"), Category: "rent", Notes: "march", Date: core.NewDate(2026, 3, 31),
	})
	got := rowFromEvent(amqp.NewTransactionEvent(amqp.EventTransactionCreated, u, tx))
	want := sheets.EntryRow{
		EntryID: tx.ID, UserID: "alice", Kind: sheets.KindTransaction, Date: tx.Date,
		Amount: tx.Amount, Category: "rent", Notes: "march",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("row = %+v, want %+v", got, want)
	}
}

func TestHandleEvent_LogsSharedFieldNames(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	u := core.NewUser("alice")
	tx, err := u.ApplyTransactionInsert(core.Transaction{
		Amount: core.MustMoney("3"), Category: "coffee", Date: core.NewDate(2026, 5, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	w := NewExportWorker(storemem.New(), sheetmem.New(), 10)
	if err := w.HandleEvent(context.Background(), amqp.NewTransactionEvent(amqp.EventTransactionCreated, u, tx)); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	for _, key := range []string{applog.FieldEventType, applog.FieldUserID, applog.FieldEntryID, applog.FieldVersion} {
		if _, ok := first[key]; !ok {
			t.Errorf("record %v lacks %q", first, key)
		}
	}
	if first[applog.FieldEntryID] != tx.ID {
		t.Errorf("%s = %v, want %s", applog.FieldEntryID, first[applog.FieldEntryID], tx.ID)
	}
}
