package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"questtable-backend/internal/apperr"
	"questtable-backend/internal/directory"
	"questtable-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Vendor{}, &models.Session{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

func createUser(t *testing.T, db *gorm.DB, first, last string) *models.User {
	user := &models.User{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("%s.%s@example.com", first, last),
		Password:  "password123",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createSession(t *testing.T, db *gorm.DB, hostID string, roster models.Roster, daysAhead int) *models.Session {
	session := &models.Session{
		HostID: hostID,
		Game:   "Test Game",
		Date:   time.Now().AddDate(0, 0, daysAhead),
		Roster: roster,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestGet_EnrichesHostAndVendor(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, directory.New(db))

	host := createUser(t, db, "Greta", "Host")
	vendor := &models.Vendor{Name: "The Dice Tower", Address: "Berlin"}
	require.NoError(t, db.Create(vendor).Error)

	session := createSession(t, db, host.ID, models.Roster{}, 7)
	require.NoError(t, db.Model(session).Update("vendor_id", vendor.ID).Error)

	view, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)

	require.NotNil(t, view.Host)
	assert.Equal(t, "Greta Host", view.Host.Name)
	require.NotNil(t, view.Vendor)
	assert.Equal(t, "The Dice Tower", view.Vendor.Name)
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, directory.New(db))

	_, err := svc.Get(context.Background(), "no-such-id")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestListForUser(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, directory.New(db))

	host := createUser(t, db, "Greta", "Host")
	player := createUser(t, db, "Paul", "Player")
	other := createUser(t, db, "Olga", "Other")

	hosted := createSession(t, db, host.ID, models.Roster{}, 3)
	joined := createSession(t, db, other.ID, models.Roster{
		Confirmed: []models.RosterEntry{{UserID: player.ID}},
	}, 1)
	pending := createSession(t, db, other.ID, models.Roster{
		Pending: []models.RosterEntry{{UserID: player.ID}},
	}, 5)
	// A session the player has nothing to do with
	createSession(t, db, other.ID, models.Roster{}, 2)

	hostViews, err := svc.ListForUser(context.Background(), host.ID)
	require.NoError(t, err)
	require.Len(t, hostViews, 1)
	assert.Equal(t, hosted.ID, hostViews[0].ID)

	playerViews, err := svc.ListForUser(context.Background(), player.ID)
	require.NoError(t, err)
	require.Len(t, playerViews, 2)
	// Soonest first
	assert.Equal(t, joined.ID, playerViews[0].ID)
	assert.Equal(t, pending.ID, playerViews[1].ID)
}

func TestListForUser_DeniedSessionsStillListed(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, directory.New(db))

	host := createUser(t, db, "Greta", "Host")
	player := createUser(t, db, "Paul", "Player")

	denied := createSession(t, db, host.ID, models.Roster{
		Denied: []string{player.ID},
	}, 2)

	views, err := svc.ListForUser(context.Background(), player.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, denied.ID, views[0].ID)
}

func TestListForUser_Empty(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, directory.New(db))

	views, err := svc.ListForUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, views)
}
