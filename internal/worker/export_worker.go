package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/amqp"
	"saldo/internal/core"
	applog "saldo/internal/log"
	"saldo/internal/sheets"
	"saldo/internal/store"
)

// Users is what the worker reads from the ledger store.
type Users interface {
	store.UserLoader
	store.UserLister
}

// EventSource delivers ledger events until ctx ends.
type EventSource interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// ExportWorker mirrors ledger entries into the spreadsheet. Events give
// low latency; the periodic reconcile repairs anything the queue lost.
type ExportWorker struct {
	users     Users
	exporter  sheets.Exporter
	batchSize int
}

// ReconcileResult summarises one reconcile pass.
type ReconcileResult struct {
	Users    int
	Upserted int
	Deleted  int
	Errors   int
	// Pending counts writes left for the next pass.
	Pending int
}

func NewExportWorker(users Users, exporter sheets.Exporter, batchSize int) *ExportWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ExportWorker{
		users:     users,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleEvent applies one ledger event to the spreadsheet.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Processing ledger event",
		applog.FieldEventType, ev.Type,
		applog.FieldUserID, ev.UserID,
		applog.FieldEntryID, ev.EntryID,
		applog.FieldVersion, ev.Version)

	if ev.IsDeletion() {
		if err := w.exporter.DeleteEntry(ctx, ev.EntryID); err != nil {
			return fmt.Errorf("delete entry %s: %w", ev.EntryID, err)
		}
		slog.InfoContext(ctx, "Deleted exported entry", applog.FieldEntryID, ev.EntryID)
		return nil
	}

	ref, err := w.exporter.UpsertEntry(ctx, rowFromEvent(ev))
	if err != nil {
		return fmt.Errorf("export entry %s: %w", ev.EntryID, err)
	}
	slog.InfoContext(ctx, "Exported entry",
		applog.FieldEntryID, ev.EntryID,
		"sheets_ref", ref,
		applog.FieldAmount, ev.Amount.String())
	return nil
}

func rowFromEvent(ev *amqp.LedgerEvent) sheets.EntryRow {
	return sheets.EntryRow{
		EntryID:  ev.EntryID,
		UserID:   ev.UserID,
		Kind:     ev.Kind,
		Date:     ev.Date,
		Amount:   ev.Amount,
		Category: ev.Category,
		Label:    ev.Label,
		Notes:    ev.Notes,
	}
}

// Reconcile writes entries missing from the sheet and removes rows whose
// entry no longer exists. At most limit writes happen per pass.
func (w *ExportWorker) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	var res ReconcileResult

	exported, err := w.exporter.ListEntryIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list exported entries: %w", err)
	}
	inSheet := make(map[string]bool, len(exported))
	for _, id := range exported {
		inSheet[id] = true
	}

	userIDs, err := w.users.ListUserIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}

	live := make(map[string]bool)
	var missing []sheets.EntryRow
	for _, userID := range userIDs {
		u, err := w.users.Load(ctx, userID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("load user %s: %w", userID, err)
		}
		res.Users++
		for _, row := range sheets.RowsFromUser(u) {
			live[row.EntryID] = true
			if !inSheet[row.EntryID] {
				missing = append(missing, row)
			}
		}
	}

	var orphans []string
	for _, id := range exported {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}

	budget := limit
	for _, row := range missing {
		if budget == 0 {
			res.Pending++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		budget--
		if _, err := w.exporter.UpsertEntry(ctx, row); err != nil {
			slog.ErrorContext(ctx, "Failed to export entry", applog.FieldEntryID, row.EntryID, applog.FieldError, err)
			res.Errors++
			continue
		}
		res.Upserted++
	}

	for _, id := range orphans {
		if budget == 0 {
			res.Pending++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		budget--
		if err := w.exporter.DeleteEntry(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to delete orphaned row", applog.FieldEntryID, id, applog.FieldError, err)
			res.Errors++
			continue
		}
		res.Deleted++
	}

	if res.Upserted+res.Deleted+res.Errors > 0 || res.Pending > 0 {
		slog.InfoContext(ctx, "Reconcile completed",
			"users", res.Users,
			"upserted", res.Upserted,
			"deleted", res.Deleted,
			"errors", res.Errors,
			"pending", res.Pending)
	}
	return res, nil
}

// StartupSync runs a larger reconcile pass to catch up after downtime.
func (w *ExportWorker) StartupSync(ctx context.Context) error {
	res, err := w.Reconcile(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	if res.Pending == 0 && res.Upserted+res.Deleted == 0 {
		slog.InfoContext(ctx, "Spreadsheet already in sync on startup", "users", res.Users)
	}
	return nil
}

// Run consumes events from source (if any) and reconciles every interval
// until ctx ends. It returns the first fatal error.
func (w *ExportWorker) Run(ctx context.Context, source EventSource, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			err := source.ConsumeLedgerEvents(ctx, w.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.InfoContext(ctx, "No event source configured, relying on periodic reconcile")
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.Reconcile(ctx, w.batchSize); err != nil && ctx.Err() == nil {
					slog.ErrorContext(ctx, "Periodic reconcile failed", applog.FieldError, err)
				}
			}
		}
	})

	return g.Wait()
}
