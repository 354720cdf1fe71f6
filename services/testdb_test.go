package services

import (
	"fmt"
	"testing"
	"time"

	"light-mint-service/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database with every table migrated.
// One connection keeps SQLite transactions serialised like row locks would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

// fixedClock returns a Clock pinned to t; advance moves it.
type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newFixedClock(s string) *fixedClock {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &fixedClock{t: t.UTC()}
}

func strPtr(s string) *string { return &s }

func seedProfile(t *testing.T, db *gorm.DB, userID, wallet string) *models.Profile {
	t.Helper()
	p := &models.Profile{UserID: userID, Username: userID}
	if wallet != "" {
		p.WalletAddress = strPtr(wallet)
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedAction(t *testing.T, db *gorm.DB, userID string, score int64, eligible bool, date string) *models.LightAction {
	t.Helper()
	a := &models.LightAction{
		ActorID:     userID,
		ActionType:  models.ActionPost,
		ReferenceID: uuid.NewString(),
		LightScore:  score,
		IsEligible:  eligible,
		Multiplier:  1,
		ActionDate:  date,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}
