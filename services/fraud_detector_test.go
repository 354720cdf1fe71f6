package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"light-mint-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDetector(t *testing.T) (*FraudDetector, *fixedClock) {
	db := newTestDB(t)
	clk := newFixedClock("2025-03-10T12:00:00Z")
	d := NewFraudDetector(db, 0)
	d.Clock = clk.Now
	return d, clk
}

func countSignals(t *testing.T, db *gorm.DB, typ models.FraudSignalType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.FraudSignal{}).Where("signal_type = ?", typ).Count(&n).Error)
	return n
}

func TestDeviceFingerprint(t *testing.T) {
	// "é" precomposed and decomposed hash the same
	assert.Equal(t, DeviceFingerprint("Caf\u00e9 Browser", "1.2.3.4"), DeviceFingerprint("Cafe\u0301 Browser", "1.2.3.4"))
	assert.NotEqual(t, DeviceFingerprint("ua", "1.2.3.4"), DeviceFingerprint("ua", "1.2.3.5"))
	assert.Len(t, DeviceFingerprint("ua", "ip"), 64)
}

func TestLogLogin_SingleUserIsNotFlagged(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := d.LogLogin(ctx, "u1", "1.2.3.4", "Mozilla", "dev-1")
		require.NoError(t, err)
		assert.False(t, res.Flagged)
	}

	var entry models.DeviceRegistryEntry
	require.NoError(t, d.DB.Where("user_id = ? AND device_hash = ?", "u1", "dev-1").First(&entry).Error)
	assert.Equal(t, int64(3), entry.UsageCount)

	var logins int64
	d.DB.Model(&models.LoginEvent{}).Count(&logins)
	assert.Equal(t, int64(3), logins)
	assert.Zero(t, countSignals(t, d.DB, models.SignalSharedDevice))
}

func TestLogLogin_SharedDeviceHoldsWholeSet(t *testing.T) {
	d, clk := newTestDetector(t)
	ctx := context.Background()
	seedProfile(t, d.DB, "u1", walletA)
	admin := seedProfile(t, d.DB, "admin1", "")
	require.NoError(t, d.DB.Model(admin).Update("is_admin", true).Error)

	_, err := d.LogLogin(ctx, "u1", "1.2.3.4", "Mozilla", "dev-1")
	require.NoError(t, err)
	clk.advance(time.Hour)
	res, err := d.LogLogin(ctx, "u2", "1.2.3.4", "Mozilla", "dev-1")
	require.NoError(t, err)

	assert.True(t, res.Flagged)
	assert.Equal(t, []string{"u1"}, res.SharedWith)
	assert.NotEmpty(t, res.SignalID)

	for _, uid := range []string{"u1", "u2"} {
		p, err := findProfile(d.DB, uid)
		require.NoError(t, err)
		assert.Equal(t, models.RewardOnHold, p.RewardStatus, uid)
		assert.NotEmpty(t, p.RewardStatusNote)
	}
	assert.Equal(t, int64(1), countSignals(t, d.DB, models.SignalSharedDevice))

	var flagged int64
	d.DB.Model(&models.DeviceRegistryEntry{}).Where("is_flagged = ?", true).Count(&flagged)
	assert.Equal(t, int64(2), flagged)

	var notes []models.AdminNotification
	require.NoError(t, d.DB.Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, "admin1", notes[0].AdminID)

	// the same set logging in again is not re-signalled
	res, err = d.LogLogin(ctx, "u1", "1.2.3.4", "Mozilla", "dev-1")
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.Equal(t, int64(1), countSignals(t, d.DB, models.SignalSharedDevice))

	// a newcomer re-signals with the whole set
	res, err = d.LogLogin(ctx, "u3", "5.6.7.8", "Other", "dev-1")
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, []string{"u1", "u2"}, res.SharedWith)
	assert.Equal(t, int64(2), countSignals(t, d.DB, models.SignalSharedDevice))
}

func TestLogLogin_WindowAndBannedUsers(t *testing.T) {
	d, clk := newTestDetector(t)
	ctx := context.Background()
	p := seedProfile(t, d.DB, "banned", "")
	require.NoError(t, d.DB.Model(p).Updates(map[string]interface{}{"is_banned": true, "reward_status": models.RewardBanned}).Error)

	_, err := d.LogLogin(ctx, "old", "", "", "dev-1")
	require.NoError(t, err)
	clk.advance(31 * 24 * time.Hour)

	res, err := d.LogLogin(ctx, "u1", "", "", "dev-1")
	require.NoError(t, err)
	assert.False(t, res.Flagged, "logins outside the window do not count")

	res, err = d.LogLogin(ctx, "banned", "", "", "dev-1")
	require.NoError(t, err)
	assert.True(t, res.Flagged)

	got, err := findProfile(d.DB, "banned")
	require.NoError(t, err)
	assert.Equal(t, models.RewardBanned, got.RewardStatus, "banned users stay banned")
	got, err = findProfile(d.DB, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RewardOnHold, got.RewardStatus)
}

func TestLogLogin_DerivesDeviceHash(t *testing.T) {
	d, _ := newTestDetector(t)
	res, err := d.LogLogin(context.Background(), "u1", "1.2.3.4", "Mozilla", "")
	require.NoError(t, err)
	assert.Equal(t, DeviceFingerprint("Mozilla", "1.2.3.4"), res.DeviceHash)

	_, err = d.LogLogin(context.Background(), "u1", "", "", "")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	_, err = d.LogLogin(context.Background(), "", "1.2.3.4", "ua", "")
	assert.ErrorAs(t, err, &vErr)
}

func TestLogLogin_ConcurrentFirstLoginsOnNewDevice(t *testing.T) {
	d, clk := newTestDetector(t)
	ctx := context.Background()
	seedProfile(t, d.DB, "u1", walletA)
	seedProfile(t, d.DB, "u2", walletB)

	var (
		wg      sync.WaitGroup
		flagged int32
	)
	for _, uid := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			res, err := d.LogLogin(ctx, uid, "1.2.3.4", "Mozilla", "dev-new")
			if assert.NoError(t, err) && res.Flagged {
				atomic.AddInt32(&flagged, 1)
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&flagged), "the later of the two logins sees the earlier one")
	for _, uid := range []string{"u1", "u2"} {
		p, err := findProfile(d.DB, uid)
		require.NoError(t, err)
		assert.Equal(t, models.RewardOnHold, p.RewardStatus, uid)
	}

	var dev models.Device
	require.NoError(t, d.DB.First(&dev, "hash = ?", "dev-new").Error)
	assert.Equal(t, int64(2), dev.Logins)
	assert.True(t, dev.FirstSeenAt.Equal(clk.Now()))

	clk.advance(time.Hour)
	_, err := d.LogLogin(ctx, "u1", "1.2.3.4", "Mozilla", "dev-new")
	require.NoError(t, err)
	require.NoError(t, d.DB.First(&dev, "hash = ?", "dev-new").Error)
	assert.Equal(t, int64(3), dev.Logins)
	assert.True(t, dev.LastSeenAt.Equal(clk.Now()))
}
