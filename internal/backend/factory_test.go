package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planalloc/internal/config"
	"planalloc/internal/lock"
	sheetsmem "planalloc/internal/sheets/memory"
	"planalloc/internal/storage/demo"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	require.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{DataBackend: "memory", LockBackend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, MemoryBackend, cfg.Type)
	assert.True(t, cfg.Demo, "the memory backend always carries the demo plan")

	cfg, err = FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", LockBackend: "memory"})
	require.NoError(t, err)
	assert.False(t, cfg.Demo)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets", LockBackend: "memory"})
	assert.ErrorContains(t, err, "invalid backend type: sheets")

	_, err = FromAppConfig(&config.Config{DataBackend: "memory", LockBackend: "redis"})
	assert.ErrorContains(t, err, "Redis address is required")
}

func TestCreateMemoryBackend(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: MemoryBackend, LockType: LocalLock, Demo: true})
	require.NoError(t, err)
	defer res.Cleanup()

	_, err = res.Store.GetPlanEvent(ctx, demo.PlanEventID)
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, res.Locker)
}

func TestCreateSQLiteBackendSeedsOnce(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "planalloc.db"),
		LockType:     LocalLock,
		Demo:         true,
	}
	f := NewFactory(nil)

	res, err := f.CreateBackend(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, res.Cleanup())

	res, err = f.CreateBackend(ctx, cfg)
	require.NoError(t, err)
	defer res.Cleanup()
	versions := []string{demo.DraftVersionID, demo.FixedVersionID}
	for _, id := range versions {
		_, err := res.Store.GetPlanVersion(ctx, demo.PlanEventID, id)
		assert.NoError(t, err, id)
	}
}

func TestCreateRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:       MemoryBackend,
		LockType:   RedisLock,
		RedisAddr:  mr.Addr(),
		LockExpiry: time.Minute,
	})
	require.NoError(t, err)
	defer res.Cleanup()

	h, ok, err := res.Locker.TryLock(ctx, lock.AllocationKey("PE", "V"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(lock.AllocationKey("PE", "V")))
	require.NoError(t, h.Unlock(ctx))
}

func TestCreateRedisLockUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type: MemoryBackend, LockType: RedisLock, RedisAddr: addr,
	})
	assert.ErrorContains(t, err, "ping redis")
}

func TestCreateExporterWithoutSpreadsheet(t *testing.T) {
	exp, err := NewFactory(nil).CreateExporter(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &sheetsmem.Exporter{}, exp)
}
