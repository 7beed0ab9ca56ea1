package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/identity"
	"saldo/internal/log"
	"saldo/internal/store"
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultMaxAttempts  = 5
)

// EventPublisher receives committed ledger changes. *amqp.Client satisfies it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

type Options struct {
	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration
	// MaxAttempts caps load-apply-save cycles lost to concurrent writers.
	MaxAttempts int
}

// LedgerService runs each mutation as one atomic read-modify-write of the
// user document. Writers for the same user queue on an in-process lock; the
// store's version check catches writers in other processes.
type LedgerService struct {
	repo     store.Repository
	events   EventPublisher
	identity identity.Provider
	locks    *keyedMutex
	timeout  time.Duration
	attempts int
}

func NewLedgerService(repo store.Repository, events EventPublisher, ids identity.Provider, opts Options) *LedgerService {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if ids == nil {
		ids = identity.Static{}
	}
	return &LedgerService{
		repo:     repo,
		events:   events,
		identity: ids,
		locks:    newKeyedMutex(),
		timeout:  opts.StoreTimeout,
		attempts: opts.MaxAttempts,
	}
}

// InsertTransaction records an expense and returns it with its new id.
func (s *LedgerService) InsertTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	var created core.Transaction
	u, err := s.mutate(ctx, userID, log.OpInsertTransaction, true, func(u *core.User) error {
		var err error
		created, err = u.ApplyTransactionInsert(tx)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}
	s.committed(ctx, log.OpInsertTransaction, u, amqp.NewTransactionEvent(amqp.EventTransactionCreated, u, created))
	return created, nil
}

// DeleteTransaction removes transaction id. A nil date means the month is
// found by searching every ledger.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string, date *core.Date) (core.Transaction, error) {
	if date != nil {
		if err := date.Validate(); err != nil {
			return core.Transaction{}, err
		}
	}
	var removed core.Transaction
	u, err := s.mutate(ctx, userID, log.OpDeleteTransaction, false, func(u *core.User) error {
		d, err := resolveDate(date, func() (core.Date, bool) {
			tx, ok := u.FindTransaction(id)
			return tx.Date, ok
		}, "transaction", id)
		if err != nil {
			return err
		}
		removed, err = u.ApplyTransactionDelete(id, d)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}
	s.committed(ctx, log.OpDeleteTransaction, u, amqp.NewTransactionEvent(amqp.EventTransactionDeleted, u, removed))
	return removed, nil
}

// InsertIncome records an income and returns it with its new id.
func (s *LedgerService) InsertIncome(ctx context.Context, userID string, in core.Income) (core.Income, error) {
	if err := in.Validate(); err != nil {
		return core.Income{}, err
	}
	var created core.Income
	u, err := s.mutate(ctx, userID, log.OpInsertIncome, true, func(u *core.User) error {
		var err error
		created, err = u.ApplyIncomeInsert(in)
		return err
	})
	if err != nil {
		return core.Income{}, err
	}
	s.committed(ctx, log.OpInsertIncome, u, amqp.NewIncomeEvent(amqp.EventIncomeCreated, u, created))
	return created, nil
}

func (s *LedgerService) DeleteIncome(ctx context.Context, userID, id string, date *core.Date) (core.Income, error) {
	if date != nil {
		if err := date.Validate(); err != nil {
			return core.Income{}, err
		}
	}
	var removed core.Income
	u, err := s.mutate(ctx, userID, log.OpDeleteIncome, false, func(u *core.User) error {
		d, err := resolveDate(date, func() (core.Date, bool) {
			in, ok := u.FindIncome(id)
			return in.Date, ok
		}, "income", id)
		if err != nil {
			return err
		}
		removed, err = u.ApplyIncomeDelete(id, d)
		return err
	})
	if err != nil {
		return core.Income{}, err
	}
	s.committed(ctx, log.OpDeleteIncome, u, amqp.NewIncomeEvent(amqp.EventIncomeDeleted, u, removed))
	return removed, nil
}

func resolveDate(date *core.Date, find func() (core.Date, bool), kind, id string) (core.Date, error) {
	if date != nil {
		return *date, nil
	}
	d, ok := find()
	if !ok {
		return core.Date{}, fmt.Errorf("%w: %s %s", core.ErrNotFound, kind, id)
	}
	return d, nil
}

func (s *LedgerService) AddCategory(ctx context.Context, userID, name string) (core.Tag, error) {
	return s.mutateTag(ctx, userID, log.OpAddCategory, true, func(u *core.User) (core.Tag, error) {
		return u.AddCategory(name)
	})
}

func (s *LedgerService) RemoveCategory(ctx context.Context, userID, id string) (core.Tag, error) {
	return s.mutateTag(ctx, userID, log.OpRemoveCategory, false, func(u *core.User) (core.Tag, error) {
		return u.RemoveCategory(id)
	})
}

func (s *LedgerService) AddLabel(ctx context.Context, userID, name string) (core.Tag, error) {
	return s.mutateTag(ctx, userID, log.OpAddLabel, true, func(u *core.User) (core.Tag, error) {
		return u.AddLabel(name)
	})
}

func (s *LedgerService) RemoveLabel(ctx context.Context, userID, id string) (core.Tag, error) {
	return s.mutateTag(ctx, userID, log.OpRemoveLabel, false, func(u *core.User) (core.Tag, error) {
		return u.RemoveLabel(id)
	})
}

func (s *LedgerService) mutateTag(ctx context.Context, userID, op string, create bool, fn func(*core.User) (core.Tag, error)) (core.Tag, error) {
	var tag core.Tag
	_, err := s.mutate(ctx, userID, op, create, func(u *core.User) error {
		var err error
		tag, err = fn(u)
		return err
	})
	if err != nil {
		return core.Tag{}, err
	}
	slog.InfoContext(ctx, "Tag updated", log.FieldUserID, userID, log.FieldOperation, op, "tag_id", tag.ID, "tag_name", tag.Name)
	return tag, nil
}

// Recompute rebuilds savings and balance from the stored entries and saves
// the result. It never creates a user.
func (s *LedgerService) Recompute(ctx context.Context, userID string) (*core.User, error) {
	return s.mutate(ctx, userID, log.OpRecompute, false, func(u *core.User) error {
		u.Recompute()
		return nil
	})
}

// Snapshot returns the month view. Unknown users and empty months are not
// errors.
func (s *LedgerService) Snapshot(ctx context.Context, userID string, year, month int) (core.MonthSnapshot, error) {
	if err := core.ValidateMonth(year, month); err != nil {
		return core.MonthSnapshot{}, err
	}
	u, err := s.load(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.EmptySnapshot(year, month, core.Money{}), nil
	}
	if err != nil {
		return core.MonthSnapshot{}, err
	}
	return u.Snapshot(year, month), nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error) {
	snap, err := s.Snapshot(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	return snap.Transactions, nil
}

func (s *LedgerService) ListIncomes(ctx context.Context, userID string, year, month int) ([]core.Income, error) {
	snap, err := s.Snapshot(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	return snap.Incomes, nil
}

func (s *LedgerService) Categories(ctx context.Context, userID string) ([]core.Tag, error) {
	u, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Categories, nil
}

func (s *LedgerService) Labels(ctx context.Context, userID string) ([]core.Tag, error) {
	u, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Labels, nil
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (core.Money, error) {
	u, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return core.Money{}, err
	}
	return u.Balance, nil
}

// Profile asks the identity provider about userID.
func (s *LedgerService) Profile(ctx context.Context, userID string) (identity.Profile, error) {
	if userID == "" {
		return identity.Profile{}, core.ErrEmptyUserID
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.identity.Lookup(ctx, userID)
}

// Verify reports invariant violations for one stored user.
func (s *LedgerService) Verify(ctx context.Context, userID string) ([]string, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Verify(), nil
}

// VerifyAll checks every stored user and returns only those with problems.
func (s *LedgerService) VerifyAll(ctx context.Context) (map[string][]string, error) {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	ids, err := s.repo.ListUserIDs(lctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", core.ErrPersistence, err)
	}
	sort.Strings(ids)

	out := make(map[string][]string)
	for _, id := range ids {
		problems, err := s.Verify(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(problems) > 0 {
			out[id] = problems
		}
	}
	return out, nil
}

func (s *LedgerService) load(ctx context.Context, userID string) (*core.User, error) {
	if userID == "" {
		return nil, core.ErrEmptyUserID
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.repo.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load user %s: %v", core.ErrPersistence, userID, err)
	}
	return u, nil
}

func (s *LedgerService) loadOrEmpty(ctx context.Context, userID string) (*core.User, error) {
	u, err := s.load(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NewUser(userID), nil
	}
	return u, err
}

// mutate loads the user, applies fn and saves, retrying on version
// conflicts. With create unset an absent user is NotFound. fn sees a fresh
// copy on every attempt and must not keep it.
func (s *LedgerService) mutate(ctx context.Context, userID, op string, create bool, fn func(*core.User) error) (*core.User, error) {
	if userID == "" {
		return nil, core.ErrEmptyUserID
	}

	// Queued writers give up after as long as one full retry budget.
	lockCtx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(s.attempts))
	unlock, err := s.locks.Lock(lockCtx, userID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %s for user %s: waiting for concurrent writer: %v",
			core.ErrPersistence, op, userID, err)
	}
	defer unlock()

	for attempt := 1; attempt <= s.attempts; attempt++ {
		u, err := s.attempt(ctx, userID, create, fn)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		slog.WarnContext(ctx, "Concurrent update detected, retrying",
			log.FieldUserID, userID,
			log.FieldOperation, op,
			log.FieldAttempt, attempt)
	}
	return nil, fmt.Errorf("%w: %s for user %s: gave up after %d conflicting attempts",
		core.ErrPersistence, op, userID, s.attempts)
}

// attempt runs one load-apply-save cycle. Version conflicts come back
// unwrapped so the caller can retry.
func (s *LedgerService) attempt(ctx context.Context, userID string, create bool, fn func(*core.User) error) (*core.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		u   *core.User
		err error
	)
	if create {
		u, err = s.repo.GetOrCreate(ctx, userID)
	} else {
		u, err = s.repo.Load(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load user %s: %v", core.ErrPersistence, userID, err)
	}

	if err := fn(u); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, u); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: save user %s: %v", core.ErrPersistence, userID, err)
	}
	return u, nil
}

// committed logs the change and publishes ev. The write is already durable,
// so publish failures are only logged.
func (s *LedgerService) committed(ctx context.Context, op string, u *core.User, ev *amqp.LedgerEvent) {
	log.NewStructuredLogger(log.FromContext(ctx)).LogLedgerMutation(ctx, op, u.UserID, ev.Kind, ev.EntryID,
		ev.Amount.String(), ev.Year, ev.Month, u.Balance.String())

	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, ev.Type,
			log.FieldUserID, u.UserID,
			log.FieldEntryID, ev.EntryID,
			log.FieldError, err)
	}
}

// Close releases the store and the event publisher when it can be closed.
func (s *LedgerService) Close() error {
	var errs []error
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.events.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	return errors.Join(errs...)
}
