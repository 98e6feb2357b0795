package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/pkg/config"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "drouple.db"),
		BusyTimeout: time.Second,
	}
	client := New(cfg, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, client.Init(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestInitIsIdempotent(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.Init(context.Background()))
	require.NoError(t, client.Ping(context.Background()))
}

func TestInitCollapsesConcurrentCallers(t *testing.T) {
	cfg := config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "drouple.db"),
		BusyTimeout: time.Second,
	}
	client := New(cfg, logger.New(logger.Options{ServiceName: "test"}))
	t.Cleanup(func() { _ = client.Close() })

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Init(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "caller %d", i)
	}
	require.NoError(t, client.Ping(context.Background()))
}

func TestInitFailureIsSticky(t *testing.T) {
	client := New(config.StoreConfig{}, logger.New(logger.Options{ServiceName: "test"}))

	first := client.Init(context.Background())
	require.Error(t, first)
	second := client.Init(context.Background())
	require.Error(t, second)
	assert.Equal(t, first, second)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&models.Member{
			ID:       "m-1",
			TenantID: "t-1",
			ChurchID: "c-1",
			Name:     "Ana",
		}).Error)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, client.DB().Model(&models.Member{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTxCommits(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.Member{
			ID:       "m-1",
			TenantID: "t-1",
			ChurchID: "c-1",
			Name:     "Ana",
		}).Error
	}))

	var count int64
	require.NoError(t, client.DB().Model(&models.Member{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestClearAllEmptiesEveryTable(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Member{ID: "m-1", TenantID: "t", ChurchID: "c", Name: "Ana"}).Error; err != nil {
			return err
		}
		return tx.Create(&models.SyncState{ResourceKey: "members"}).Error
	}))

	require.NoError(t, client.ClearAll(ctx))

	var members, states int64
	require.NoError(t, client.DB().Model(&models.Member{}).Count(&members).Error)
	require.NoError(t, client.DB().Model(&models.SyncState{}).Count(&states).Error)
	assert.Zero(t, members)
	assert.Zero(t, states)
}
