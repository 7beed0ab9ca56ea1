package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"saldo/internal/core"
)

type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventIncomeCreated      EventType = "income.created"
	EventIncomeDeleted      EventType = "income.deleted"
)

const (
	KindTransaction = "transaction"
	KindIncome      = "income"
)

// LedgerEvent describes one committed ledger mutation. It carries the whole
// entry so consumers never read back from the store.
type LedgerEvent struct {
	Type      EventType  `json:"type"`
	UserID    string     `json:"userId"`
	EntryID   string     `json:"entryId"`
	Kind      string     `json:"kind"`
	Amount    core.Money `json:"amount"`
	Date      core.Date  `json:"date"`
	Category  string     `json:"category,omitempty"`
	Label     string     `json:"label,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	Savings   core.Money `json:"savings"`
	Balance   core.Money `json:"balance"`
	Version   int64      `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewTransactionEvent builds the event for a transaction insert or delete.
// u must be the committed aggregate.
func NewTransactionEvent(typ EventType, u *core.User, tx core.Transaction) *LedgerEvent {
	ev := newEvent(typ, u, tx.ID, KindTransaction, tx.Amount, tx.Date, tx.Notes)
	ev.Category = tx.Category
	ev.Label = tx.Label
	return ev
}

// NewIncomeEvent builds the event for an income insert or delete.
func NewIncomeEvent(typ EventType, u *core.User, in core.Income) *LedgerEvent {
	return newEvent(typ, u, in.ID, KindIncome, in.Amount, in.Date, in.Notes)
}

func newEvent(typ EventType, u *core.User, id, kind string, amount core.Money, d core.Date, notes string) *LedgerEvent {
	ev := &LedgerEvent{
		Type:      typ,
		UserID:    u.UserID,
		EntryID:   id,
		Kind:      kind,
		Amount:    amount,
		Date:      d,
		Notes:     notes,
		Year:      d.Year(),
		Month:     d.Month(),
		Balance:   u.Balance,
		Version:   u.Version,
		Timestamp: time.Now().UTC(),
	}
	if l := u.Ledger(ev.Year, ev.Month); l != nil {
		ev.Savings = l.Savings
	}
	return ev
}

// IsDeletion reports whether the event removes an entry.
func (e *LedgerEvent) IsDeletion() bool {
	return e.Type == EventTransactionDeleted || e.Type == EventIncomeDeleted
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and sanity checks a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventTransactionCreated, EventTransactionDeleted, EventIncomeCreated, EventIncomeDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.UserID == "" || ev.EntryID == "" {
		return nil, fmt.Errorf("event %s missing user or entry id", ev.Type)
	}
	return &ev, nil
}
