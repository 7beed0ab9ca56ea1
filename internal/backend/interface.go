package backend

import (
	"context"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/identity"
	"saldo/internal/services"
	"saldo/internal/sheets"
	"saldo/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the process-wide collaborators built from config.
type BackendResult struct {
	Ledger     *services.LedgerService
	Repository store.Repository
	// Events is nil when AMQP is not configured.
	Events *amqp.Client
	// IdentityCache is nil when no identity service is configured.
	IdentityCache *identity.Cached
	// ReadyChecks probe each external dependency.
	ReadyChecks map[string]func(context.Context) error
	Cleanup     CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend builds the store, event publisher, identity provider and
	// the ledger service on top of them.
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	// CreateExporter builds the spreadsheet exporter used by the worker.
	CreateExporter(ctx context.Context, config Config) (sheets.Exporter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// memory
	DataDirectory string

	// sqlite
	SQLiteDBPath string

	// dynamodb
	DynamoTable    string
	AWSRegion      string
	DynamoEndpoint string

	// Ledger service
	StoreTimeout     time.Duration
	MaxWriteAttempts int

	// AMQP, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Identity provider, optional
	IdentityURL       string
	IdentityAPIKey    string
	IdentityCacheTTL  time.Duration
	IdentityCacheSize int

	// Google Sheets export
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string
}

// BackendType names a document store.
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	DynamoDBBackend BackendType = "dynamodb"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, DynamoDBBackend:
		return true
	default:
		return false
	}
}
