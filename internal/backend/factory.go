package backend

import (
	"context"
	"fmt"
	"log/slog"

	goredislib "github.com/redis/go-redis/v9"

	"planalloc/internal/lock"
	"planalloc/internal/ports"
	"planalloc/internal/sheets"
	gsheet "planalloc/internal/sheets/google"
	sheetsmem "planalloc/internal/sheets/memory"
	"planalloc/internal/storage"
	"planalloc/internal/storage/demo"
	"planalloc/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the store and the run lock. On error nothing is left open.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if config.Demo {
		seeded, err := demo.Seed(ctx, store)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		f.logger.Info("Demo plan ready", "plan_event_id", demo.PlanEventID, "seeded", seeded)
	}

	locker, closeLocker, err := f.createLocker(ctx, config)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &BackendResult{
		Store:  store,
		Locker: locker,
		Cleanup: func() error {
			lerr := closeLocker()
			if err := store.Close(); err != nil {
				return err
			}
			return lerr
		},
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (ports.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createLocker(ctx context.Context, config Config) (lock.Locker, func() error, error) {
	if config.LockType != RedisLock {
		f.logger.Info("Using in-process run lock")
		return lock.NewLocal(), func() error { return nil }, nil
	}

	client := goredislib.NewClient(&goredislib.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis at %s: %w", config.RedisAddr, err)
	}

	locker, err := lock.NewRedis(client, config.LockExpiry)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create redis lock: %w", err)
	}
	f.logger.Info("Using Redis run lock", "addr", config.RedisAddr, "expiry", config.LockExpiry)
	return locker, client.Close, nil
}

// CreateExporter returns the Google Sheets exporter when a spreadsheet is
// configured, and an in-memory one otherwise.
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.ResultExporter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Warn("No spreadsheet configured, exported results are kept in memory only")
		return sheetsmem.New(), nil
	}

	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleCredentialsJSON,
		CredentialsFile: config.GoogleCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets exporter", "sheet", config.GoogleSheetName)
	return client, nil
}
