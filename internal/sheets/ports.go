package sheets

import (
	"context"

	"saldo/internal/core"
)

// Entry kinds as written in the sheet.
const (
	KindTransaction = "transaction"
	KindIncome      = "income"
)

// EntryRow is one ledger entry as mirrored into the spreadsheet.
type EntryRow struct {
	EntryID  string
	UserID   string
	Kind     string
	Date     core.Date
	Amount   core.Money
	Category string
	Label    string
	Notes    string
}

// RowsFromUser flattens every entry of u, oldest month first.
func RowsFromUser(u *core.User) []EntryRow {
	var rows []EntryRow
	for _, l := range u.Ledgers {
		for _, tx := range l.Transactions {
			rows = append(rows, EntryRow{
				EntryID: tx.ID, UserID: u.UserID, Kind: KindTransaction, Date: tx.Date,
				Amount: tx.Amount, Category: tx.Category, Label: tx.Label, Notes: tx.Notes,
			})
		}
		for _, in := range l.Incomes {
			rows = append(rows, EntryRow{
				EntryID: in.ID, UserID: u.UserID, Kind: KindIncome, Date: in.Date,
				Amount: in.Amount, Notes: in.Notes,
			})
		}
	}
	return rows
}

// Ports for outbound adapters.
type (
	EntryWriter interface {
		// UpsertEntry writes the row, replacing any row with the same entry id.
		UpsertEntry(ctx context.Context, row EntryRow) (rowRef string, err error)
	}

	EntryDeleter interface {
		// DeleteEntry removes the row for entryID. A missing row is not an error.
		DeleteEntry(ctx context.Context, entryID string) error
	}

	EntryLister interface {
		ListEntryIDs(ctx context.Context) ([]string, error)
	}

	Exporter interface {
		EntryWriter
		EntryDeleter
		EntryLister
	}
)
