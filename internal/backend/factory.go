package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/identity"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/sheets"
	gsheet "saldo/internal/sheets/google"
	sheetmem "saldo/internal/sheets/memory"
	"saldo/internal/store"
	"saldo/internal/store/dynamo"
	storemem "saldo/internal/store/memory"
	"saldo/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	// dialAMQP is swapped in tests.
	dialAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger:   logger.With(log.FieldComponent, log.ComponentBackend),
		dialAMQP: amqp.NewClient,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	repo, err := f.createRepository(ctx, config)
	if err != nil {
		return nil, err
	}

	result := &BackendResult{
		Repository:  repo,
		ReadyChecks: map[string]func(context.Context) error{"store": storeCheck(repo)},
	}

	// A typed nil *amqp.Client must not reach the service as a publisher.
	var events services.EventPublisher
	if config.AMQPURL != "" {
		client, err := f.dialAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err)
		} else {
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange, "queue", config.AMQPQueue)
			result.Events = client
			events = client
		}
	}

	var ids identity.Provider = identity.Static{}
	if config.IdentityURL != "" {
		size := config.IdentityCacheSize
		if size < 1 {
			size = 1000
		}
		cached := identity.NewCached(identity.NewHTTPProvider(config.IdentityURL, config.IdentityAPIKey, config.StoreTimeout), size, config.IdentityCacheTTL)
		result.IdentityCache = cached
		ids = cached
		f.logger.Info("Initialized identity provider", "url", config.IdentityURL, "cache_ttl", config.IdentityCacheTTL)
	}

	result.Ledger = services.NewLedgerService(repo, events, ids, services.Options{
		StoreTimeout: config.StoreTimeout,
		MaxAttempts:  config.MaxWriteAttempts,
	})
	result.Cleanup = result.Ledger.Close

	f.logger.Info("Initialized ledger backend",
		"backend", config.Type.String(),
		"amqp_enabled", result.Events != nil,
		"identity_enabled", result.IdentityCache != nil)
	return result, nil
}

func (f *DefaultFactory) createRepository(ctx context.Context, config Config) (store.Repository, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := sqlite.NewRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case DynamoDBBackend:
		repo, err := dynamo.New(ctx, dynamo.Options{
			Table:    config.DynamoTable,
			Region:   config.AWSRegion,
			Endpoint: config.DynamoEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DynamoDB store: %w", err)
		}
		f.logger.Info("Initialized DynamoDB store", "table", config.DynamoTable, "region", config.AWSRegion)
		return repo, nil
	case MemoryBackend:
		repo, err := storemem.NewFromFiles(config.DataDirectory)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize memory store: %w", err)
		}
		f.logger.Info("Initialized memory store", "data_directory", config.DataDirectory)
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// storeCheck pings the store when it can, and lists users otherwise.
func storeCheck(repo store.Repository) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if p, ok := repo.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := repo.ListUserIDs(ctx)
		return err
	}
}

// CreateExporter returns the Google Sheets exporter when a spreadsheet is
// configured and an in-memory one otherwise.
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.Exporter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Warn("No spreadsheet configured, exporting to memory only")
		return sheetmem.New(), nil
	}
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID: config.GoogleSpreadsheetID,
		SheetName:     config.GoogleSheetName,
		ClientJSON:    config.GoogleOAuthClientJSON,
		ClientFile:    config.GoogleOAuthClientFile,
		TokenJSON:     config.GoogleOAuthTokenJSON,
		TokenFile:     config.GoogleOAuthTokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets exporter", "sheet", config.GoogleSheetName)
	return cli, nil
}
