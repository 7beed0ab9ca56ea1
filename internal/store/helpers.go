package store

import (
	"context"
	"errors"

	"saldo/internal/core"
)

// GetOrCreate loads userID through l and falls back to an unsaved empty
// aggregate when it does not exist yet.
func GetOrCreate(ctx context.Context, l UserLoader, userID string) (*core.User, error) {
	u, err := l.Load(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NewUser(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Normalize replaces nil slices in a decoded document with empty ones so
// API responses never carry null lists.
func Normalize(u *core.User) *core.User {
	if u.Ledgers == nil {
		u.Ledgers = []core.MonthlyLedger{}
	}
	if u.Categories == nil {
		u.Categories = []core.Tag{}
	}
	if u.Labels == nil {
		u.Labels = []core.Tag{}
	}
	for i := range u.Ledgers {
		if u.Ledgers[i].Transactions == nil {
			u.Ledgers[i].Transactions = []core.Transaction{}
		}
		if u.Ledgers[i].Incomes == nil {
			u.Ledgers[i].Incomes = []core.Income{}
		}
	}
	return u
}
