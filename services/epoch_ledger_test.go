package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"light-mint-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testDate = "2025-03-10"

func TestReserve_PartialGrantAtGlobalCap(t *testing.T) {
	db := newTestDB(t)
	l := NewEpochLedger(db, 150)
	ctx := context.Background()

	granted, err := l.Reserve(ctx, "u1", testDate, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(150), granted)

	_, err = l.Reserve(ctx, "u2", testDate, 10, 0)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "global", capErr.Scope)
	assert.True(t, errors.Is(err, ErrDailyCapReached))
}

func TestReserve_UserLimit(t *testing.T) {
	db := newTestDB(t)
	l := NewEpochLedger(db, 10000)
	ctx := context.Background()

	granted, err := l.Reserve(ctx, "u1", testDate, 400, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(400), granted)

	granted, err = l.Reserve(ctx, "u1", testDate, 400, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(100), granted)

	_, err = l.Reserve(ctx, "u1", testDate, 1, 500)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "user", capErr.Scope)

	// other users are unaffected
	granted, err = l.Reserve(ctx, "u2", testDate, 400, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(400), granted)
}

func TestReserve_ConcurrentNeverExceedsCap(t *testing.T) {
	db := newTestDB(t)
	l := NewEpochLedger(db, 1000)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := l.Reserve(ctx, fmt.Sprintf("user-%d", i), testDate, 70, 0)
			if err != nil {
				assert.ErrorIs(t, err, ErrDailyCapReached)
				return
			}
			mu.Lock()
			total += g
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	ep, err := l.GetEpoch(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)
	assert.Equal(t, int64(1000), ep.TotalReserved)
	assert.LessOrEqual(t, ep.TotalReserved, ep.TotalCap)
}

func TestReleaseAndCommit(t *testing.T) {
	db := newTestDB(t)
	l := NewEpochLedger(db, 1000)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "u1", testDate, 300, 0)
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return l.CommitTx(tx, "u1", testDate, 200)
	}))
	require.NoError(t, l.Release(ctx, "u1", testDate, 500))

	ep, err := l.GetEpoch(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ep.TotalMinted)
	assert.Equal(t, int64(200), ep.TotalReserved, "release never drops reserved below minted")

	ud, err := l.UserDaily(ctx, "u1", testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ud.Reserved)
	assert.Equal(t, int64(200), ud.Minted)

	err = db.Transaction(func(tx *gorm.DB) error {
		return l.CommitTx(tx, "u1", testDate, 1)
	})
	assert.Error(t, err, "cannot mint more than reserved")
}

func TestSetCap(t *testing.T) {
	db := newTestDB(t)
	l := NewEpochLedger(db, 1000)
	ctx := context.Background()

	ep, err := l.GetEpoch(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ep.TotalCap)

	var count int64
	db.Model(&models.Epoch{}).Count(&count)
	assert.Zero(t, count, "GetEpoch does not create rows")

	_, err = l.Reserve(ctx, "u1", testDate, 600, 0)
	require.NoError(t, err)

	_, err = l.SetCap(ctx, testDate, 500)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)

	ep, err = l.SetCap(ctx, testDate, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ep.TotalCap)

	_, err = l.SetCap(ctx, "10-03-2025", 1)
	assert.ErrorAs(t, err, &vErr)
}
