package google

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"saldo/internal/core"
	ports "saldo/internal/sheets"

	"golang.org/x/oauth2"
)

// fakeSheet stores rows in memory and counts reads of the id column.
type fakeSheet struct {
	rows      [][]any
	reads     int
	failWrite error
}

func (f *fakeSheet) values(_ context.Context, rng string) ([][]any, error) {
	f.reads++
	out := make([][]any, len(f.rows))
	for i, r := range f.rows {
		if len(r) > 0 {
			out[i] = []any{r[0]}
		}
	}
	return out, nil
}

func (f *fakeSheet) update(_ context.Context, rng string, row []any) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	n := rowOf(rng)
	for len(f.rows) < n {
		f.rows = append(f.rows, nil)
	}
	f.rows[n-1] = row
	return nil
}

func (f *fakeSheet) deleteRow(_ context.Context, _ string, row int) error {
	if row < 1 || row > len(f.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	f.rows = append(f.rows[:row-1], f.rows[row:]...)
	return nil
}

// rowOf extracts N from "Sheet!AN:HN".
func rowOf(rng string) int {
	cell := rng[strings.Index(rng, "!A")+2 : strings.Index(rng, ":")]
	n, _ := strconv.Atoi(cell)
	return n
}

func (f *fakeSheet) ids() []string {
	var out []string
	for _, r := range f.rows[1:] {
		out = append(out, r[0].(string))
	}
	return out
}

func testRow(id string, amount string) ports.EntryRow {
	return ports.EntryRow{
		EntryID: id,
		UserID:  "alice",
		Kind:    ports.KindTransaction,
		Date:    core.NewDate(2026, 1, 15),
		Amount:  core.MustMoney(amount),
	}
}

func TestClient_UpsertWritesHeaderThenRows(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{}
	c := newClient(fake, "sheet-id", "Ledger")

	ref, err := c.UpsertEntry(ctx, testRow("tx-1", "-10"))
	if err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if ref != "Ledger!A2:H2" {
		t.Errorf("ref = %q, want Ledger!A2:H2", ref)
	}
	if _, err := c.UpsertEntry(ctx, testRow("tx-2", "-20")); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	if !reflect.DeepEqual(fake.rows[0], header) {
		t.Errorf("row 1 = %v, want header", fake.rows[0])
	}
	if got := fake.ids(); !reflect.DeepEqual(got, []string{"tx-1", "tx-2"}) {
		t.Errorf("ids = %v", got)
	}
	if fake.reads != 1 {
		t.Errorf("id column read %d times, want 1 (cached)", fake.reads)
	}
}

func TestClient_UpsertReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]any{header, {"tx-1"}, {"tx-2"}}}
	c := newClient(fake, "sheet-id", "Ledger")

	ref, err := c.UpsertEntry(ctx, testRow("tx-1", "-99"))
	if err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if ref != "Ledger!A2:H2" {
		t.Errorf("ref = %q", ref)
	}
	if len(fake.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(fake.rows))
	}
	if fake.rows[1][4] != "-99.00" {
		t.Errorf("amount = %v, want -99.00", fake.rows[1][4])
	}
}

func TestClient_DeleteShiftsRowsAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]any{header, {"tx-1"}, {"tx-2"}, {"tx-3"}}}
	c := newClient(fake, "sheet-id", "Ledger")

	if err := c.DeleteEntry(ctx, "tx-2"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if got := fake.ids(); !reflect.DeepEqual(got, []string{"tx-1", "tx-3"}) {
		t.Errorf("ids after delete = %v", got)
	}

	// tx-3 moved from row 4 to row 3; a stale cache would write row 4.
	ref, err := c.UpsertEntry(ctx, testRow("tx-3", "-1"))
	if err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if ref != "Ledger!A3:H3" {
		t.Errorf("ref = %q, want Ledger!A3:H3", ref)
	}
	if fake.reads != 2 {
		t.Errorf("reads = %d, want 2", fake.reads)
	}
}

func TestClient_DeleteMissingIsNoop(t *testing.T) {
	fake := &fakeSheet{rows: [][]any{header, {"tx-1"}}}
	c := newClient(fake, "sheet-id", "Ledger")

	if err := c.DeleteEntry(context.Background(), "nope"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if len(fake.rows) != 2 {
		t.Errorf("rows = %d, want 2", len(fake.rows))
	}
}

func TestClient_ListEntryIDsRereads(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]any{header, {"b"}, {"a"}}}
	c := newClient(fake, "sheet-id", "Ledger")

	ids, err := c.ListEntryIDs(ctx)
	if err != nil {
		t.Fatalf("ListEntryIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"b", "a"}) {
		t.Errorf("ids = %v", ids)
	}

	fake.rows = append(fake.rows, []any{"c"})
	ids, _ = c.ListEntryIDs(ctx)
	if len(ids) != 3 {
		t.Errorf("ids = %v, want 3 entries", ids)
	}
}

func TestClient_CacheExpires(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{}
	c := newClient(fake, "sheet-id", "Ledger")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.UpsertEntry(ctx, testRow("tx-1", "1")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(c.cacheValidDuration + time.Second)
	if _, err := c.UpsertEntry(ctx, testRow("tx-2", "1")); err != nil {
		t.Fatal(err)
	}
	if fake.reads != 2 {
		t.Errorf("reads = %d, want 2 after expiry", fake.reads)
	}
}

func TestClient_InvalidateRowCache(t *testing.T) {
	c := newClient(&fakeSheet{}, "sheet-id", "Ledger")
	c.cacheExpiresAt = time.Now().Add(time.Hour)

	c.InvalidateRowCache()

	if time.Now().Before(c.cacheExpiresAt) {
		t.Error("cache should be expired after invalidation")
	}
}

func TestClient_WriteFailureInvalidates(t *testing.T) {
	boom := errors.New("quota exceeded")
	fake := &fakeSheet{rows: [][]any{header}, failWrite: boom}
	c := newClient(fake, "sheet-id", "Ledger")

	_, err := c.UpsertEntry(context.Background(), testRow("tx-1", "1"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if !c.cacheExpiresAt.IsZero() {
		t.Error("cache should be invalidated after a failed write")
	}
}

func TestClient_Guards(t *testing.T) {
	c := &Client{}
	if _, err := c.UpsertEntry(context.Background(), testRow("tx-1", "1")); err == nil {
		t.Error("expected error with nil service")
	}
	if _, err := newClient(&fakeSheet{}, "id", "Ledger").UpsertEntry(context.Background(), ports.EntryRow{}); err == nil {
		t.Error("expected error for empty entry id")
	}
	if err := c.DeleteEntry(context.Background(), "x"); err == nil {
		t.Error("expected error with nil service")
	}
	if _, err := c.ListEntryIDs(context.Background()); err == nil {
		t.Error("expected error with nil service")
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil || err.Error() != "missing spreadsheet id" {
		t.Errorf("unexpected error: %v", err)
	}
}

const testClientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNewSheetsService_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "missing client",
			opts: Options{},
			want: "missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)",
		},
		{
			name: "invalid client",
			opts: Options{ClientJSON: "invalid-json", TokenJSON: `{"access_token":"test"}`},
			want: "oauth config",
		},
		{
			name: "missing token",
			opts: Options{ClientJSON: testClientJSON},
			want: "missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)",
		},
		{
			name: "invalid token",
			opts: Options{ClientJSON: testClientJSON, TokenJSON: "{not json"},
			want: "oauth token",
		},
		{
			name: "unreadable client file",
			opts: Options{ClientFile: "/does/not/exist.json"},
			want: "read oauth client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSheetsService(context.Background(), tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestNewSheetsService_FromJSON(t *testing.T) {
	svc, err := newSheetsService(context.Background(), Options{
		SpreadsheetID: "sheet-id",
		ClientJSON:    testClientJSON,
		TokenJSON:     `{"access_token":"test","token_type":"Bearer"}`,
	})
	if err != nil {
		t.Fatalf("newSheetsService: %v", err)
	}
	if svc == nil {
		t.Fatal("expected service")
	}
}

func TestJSONUnmarshalToken(t *testing.T) {
	var token oauth2.Token
	if err := jsonUnmarshal([]byte(`{"access_token":"abc","token_type":"Bearer"}`), &token); err != nil {
		t.Fatalf("jsonUnmarshal failed: %v", err)
	}
	if token.AccessToken != "abc" {
		t.Errorf("access token = %q", token.AccessToken)
	}
}

func TestNewHTTPClientWithPooling(t *testing.T) {
	c := newHTTPClientWithPooling()
	if c.Timeout != 60*time.Second {
		t.Errorf("timeout = %v", c.Timeout)
	}
}
