package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	ports "saldo/internal/sheets"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Options names the target spreadsheet and where the OAuth material lives.
// Inline JSON wins over files.
type Options struct {
	SpreadsheetID string
	SheetName     string
	ClientJSON    string
	ClientFile    string
	TokenJSON     string
	TokenFile     string
}

type Client struct {
	api           sheetAPI
	spreadsheetID string
	sheet         string

	// Row cache: entry id to 1-based sheet row. Deletes shift rows, so they
	// drop the whole cache.
	mu                 sync.Mutex
	rowIndex           map[string]int
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
	now                func() time.Time
}

var _ ports.Exporter = (*Client)(nil)

// header is written to row 1 of an empty sheet.
var header = []any{"entry_id", "user_id", "kind", "date", "amount", "category", "label", "notes"}

// jsonUnmarshal is swapped in tests.
var jsonUnmarshal = json.Unmarshal

// New builds a Sheets client authorised with an OAuth user token.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(opts.SheetName) == "" {
		opts.SheetName = "Ledger"
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&serviceAPI{svc: svc, spreadsheetID: opts.SpreadsheetID}, opts.SpreadsheetID, opts.SheetName), nil
}

func newClient(api sheetAPI, spreadsheetID, sheet string) *Client {
	return &Client{
		api:                api,
		spreadsheetID:      spreadsheetID,
		sheet:              sheet,
		cacheValidDuration: 2 * time.Minute,
		now:                time.Now,
	}
}

// newSheetsService loads the OAuth client config and token and returns a
// Sheets service using a pooled transport.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	cfg, err := OAuthConfig(opts.ClientJSON, opts.ClientFile)
	if err != nil {
		return nil, err
	}

	tokenBytes, err := readSecret(opts.TokenJSON, opts.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if tokenBytes == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	var tok oauth2.Token
	if err := jsonUnmarshal(tokenBytes, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	// The oauth2 transport wraps whatever client it finds in the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := cfg.Client(ctx, &tok)

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", opts.SpreadsheetID, "sheet", opts.SheetName)
	return svc, nil
}

// OAuthConfig loads the OAuth client for the spreadsheets scope. Inline
// JSON wins over the file.
func OAuthConfig(clientJSON, clientFile string) (*oauth2.Config, error) {
	clientBytes, err := readSecret(clientJSON, clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	if clientBytes == nil {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	cfg, err := goauth.ConfigFromJSON(clientBytes, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

// readSecret returns inline JSON, else the file contents, else nil.
func readSecret(inline, path string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if path = strings.TrimSpace(path); path != "" {
		return os.ReadFile(path)
	}
	return nil, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// UpsertEntry overwrites the row holding row.EntryID, or writes a new row
// after the last one.
func (c *Client) UpsertEntry(ctx context.Context, row ports.EntryRow) (string, error) {
	if row.EntryID == "" {
		return "", errors.New("entry id is required")
	}
	if c.api == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureIndexLocked(ctx); err != nil {
		return "", err
	}

	if c.cachedRowCount == 0 {
		if err := c.api.update(ctx, c.rowRange(1), header); err != nil {
			return "", fmt.Errorf("write header in sheet %s: %w", c.sheet, err)
		}
		c.cachedRowCount = 1
	}

	rowNum, exists := c.rowIndex[row.EntryID]
	if !exists {
		rowNum = c.cachedRowCount + 1
	}

	rng := c.rowRange(rowNum)
	if err := c.api.update(ctx, rng, entryValues(row)); err != nil {
		// The sheet may have moved under us.
		c.invalidateLocked()
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	if !exists {
		c.rowIndex[row.EntryID] = rowNum
		c.cachedRowCount = rowNum
	}
	slog.DebugContext(ctx, "Upserted sheet row", "entry_id", row.EntryID, "range", rng, "new", !exists)
	return rng, nil
}

// DeleteEntry removes the row for entryID and shifts later rows up.
func (c *Client) DeleteEntry(ctx context.Context, entryID string) error {
	if c.api == nil {
		return errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureIndexLocked(ctx); err != nil {
		return err
	}
	rowNum, ok := c.rowIndex[entryID]
	if !ok {
		return nil
	}

	err := c.api.deleteRow(ctx, c.sheet, rowNum)
	c.invalidateLocked()
	if err != nil {
		return fmt.Errorf("delete row %d in sheet %s: %w", rowNum, c.sheet, err)
	}
	slog.DebugContext(ctx, "Deleted sheet row", "entry_id", entryID, "row", rowNum)
	return nil
}

// ListEntryIDs re-reads the id column and returns ids in sheet order.
func (c *Client) ListEntryIDs(ctx context.Context) ([]string, error) {
	if c.api == nil {
		return nil, errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()
	if err := c.ensureIndexLocked(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.rowIndex))
	for id := range c.rowIndex {
		ids = append(ids, id)
	}
	sortByRow(ids, c.rowIndex)
	return ids, nil
}

// InvalidateRowCache forces the next call to re-read the id column.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Client) invalidateLocked() {
	c.cacheExpiresAt = time.Time{}
}

func (c *Client) ensureIndexLocked(ctx context.Context) error {
	if c.rowIndex != nil && c.now().Before(c.cacheExpiresAt) {
		return nil
	}
	rng := fmt.Sprintf("%s!A:A", c.sheet)
	values, err := c.api.values(ctx, rng)
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	c.rowIndex, c.cachedRowCount = parseIndex(values)
	c.cacheExpiresAt = c.now().Add(c.cacheValidDuration)
	return nil
}

func (c *Client) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:H%d", c.sheet, row, row)
}

// sheetAPI is the slice of the Sheets API the client uses.
type sheetAPI interface {
	values(ctx context.Context, rng string) ([][]any, error)
	update(ctx context.Context, rng string, row []any) error
	// deleteRow removes the 1-based row from the named sheet.
	deleteRow(ctx context.Context, sheet string, row int) error
}

type serviceAPI struct {
	svc           *gsheet.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

func (s *serviceAPI) values(ctx context.Context, rng string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceAPI) update(ctx context.Context, rng string, row []any) error {
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *serviceAPI) deleteRow(ctx context.Context, sheet string, row int) error {
	sheetID, err := s.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (s *serviceAPI) sheetID(ctx context.Context, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sheetIDs[title]; ok {
		return id, nil
	}
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet %s: %w", s.spreadsheetID, err)
	}
	s.sheetIDs = make(map[string]int64, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	id, ok := s.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found in spreadsheet", title)
	}
	return id, nil
}
