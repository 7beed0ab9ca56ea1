package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	Date struct {
		time.Time
	}

	Transaction struct {
		ID       string `json:"id"`
		Amount   Money  `json:"amount"`
		Category string `json:"category"`
		Label    string `json:"label,omitempty"`
		Date     Date   `json:"date"`
		Notes    string `json:"notes,omitempty"`
	}

	Income struct {
		ID     string `json:"id"`
		Amount Money  `json:"amount"`
		Date   Date   `json:"date"`
		Notes  string `json:"notes,omitempty"`
	}

	// Tag is a user-defined name. Categories and labels share this shape and
	// are referenced from transactions by name only.
	Tag struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// MonthlyLedger holds the entries of one calendar month.
	MonthlyLedger struct {
		Year         int           `json:"year"`
		Month        int           `json:"month"` // 1-12
		Transactions []Transaction `json:"transactions"`
		Incomes      []Income      `json:"incomes"`
		Savings      Money         `json:"savings"`
	}

	// User is the aggregate persisted as a single document.
	User struct {
		UserID     string          `json:"userId"`
		Balance    Money           `json:"balance"`
		Ledgers    []MonthlyLedger `json:"ledgers"`
		Categories []Tag           `json:"categories"`
		Labels     []Tag           `json:"labels"`
		Version    int64           `json:"version"`
		CreatedAt  time.Time       `json:"createdAt"`
		UpdatedAt  time.Time       `json:"updatedAt"`
	}
)

// Error kinds. Every error returned by the ledger wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
)

var (
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrInvalidInput)
	ErrInvalidMonth  = fmt.Errorf("%w: invalid month", ErrInvalidInput)
	ErrEmptyCategory = fmt.Errorf("%w: empty category", ErrInvalidInput)
	ErrEmptyUserID   = fmt.Errorf("%w: empty user id", ErrInvalidInput)
)

const (
	maxNotesLength = 500
	maxNameLength  = 100
)

const dateLayout = "2006-01-02"

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD, RFC3339 and YYYY-MM-DDTHH:MM:SS.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return NewDate(t.Year(), int(t.Month()), t.Day()), nil
		}
	}
	return Date{}, fmt.Errorf("%w %q", ErrInvalidDate, raw)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return ErrInvalidDate
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ValidateMonth checks a (year, month) pair addressed by callers.
func ValidateMonth(year, month int) error {
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	if year < 1 || year > 9999 {
		return fmt.Errorf("%w: invalid year %d", ErrInvalidInput, year)
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes too long (max %d characters)", ErrInvalidInput, maxNotesLength)
	}
	return nil
}

func (in Income) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if err := in.Date.Validate(); err != nil {
		return err
	}
	if len(in.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes too long (max %d characters)", ErrInvalidInput, maxNotesLength)
	}
	return nil
}

// NewUser returns an empty aggregate for userID. It is not persisted.
func NewUser(userID string) *User {
	return &User{
		UserID:     userID,
		Ledgers:    []MonthlyLedger{},
		Categories: []Tag{},
		Labels:     []Tag{},
	}
}

// Clone returns a deep copy of the aggregate.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Ledgers = make([]MonthlyLedger, len(u.Ledgers))
	for i, l := range u.Ledgers {
		l.Transactions = append([]Transaction{}, l.Transactions...)
		l.Incomes = append([]Income{}, l.Incomes...)
		c.Ledgers[i] = l
	}
	c.Categories = append([]Tag{}, u.Categories...)
	c.Labels = append([]Tag{}, u.Labels...)
	return &c
}
