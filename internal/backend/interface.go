package backend

import (
	"context"
	"time"

	"planalloc/internal/lock"
	"planalloc/internal/ports"
	"planalloc/internal/sheets"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult bundles the store and run lock an AllocationService needs.
type BackendResult struct {
	Store   ports.Store
	Locker  lock.Locker
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	CreateExporter(ctx context.Context, config Config) (sheets.ResultExporter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	LockType      LockType
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockExpiry    time.Duration

	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsJSON string
	GoogleCredentialsFile string

	// Demo seeds the store with the demo plan when it is missing.
	Demo bool
}

// BackendType selects the store implementation.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// LockType selects the run lock implementation.
type LockType string

const (
	LocalLock LockType = "memory"
	RedisLock LockType = "redis"
)

func (lt LockType) IsValid() bool {
	return lt == LocalLock || lt == RedisLock
}
