package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"questtable-backend/internal/apperr"
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

	require.NoError(t, db.AutoMigrate(&models.Session{}, &models.FeedbackRecord{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

// createCompletedSession seeds a session in the past with the given
// confirmed player ids.
func createCompletedSession(t *testing.T, db *gorm.DB, hostID string, playerIDs ...string) *models.Session {
	confirmed := make([]models.RosterEntry, 0, len(playerIDs))
	for _, id := range playerIDs {
		confirmed = append(confirmed, models.RosterEntry{UserID: id})
	}

	session := &models.Session{
		HostID: hostID,
		Game:   "Blades in the Dark",
		Date:   time.Now().AddDate(0, 0, -1),
		Roster: models.Roster{
			Confirmed: confirmed,
			Pending:   []models.RosterEntry{},
			Denied:    []string{},
		},
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestSubmit_HostRatesPlayer(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")

	record, err := engine.Submit(context.Background(), "host-1", "player-1", session.ID, models.TypeGame, models.VerdictYes, "great table presence")
	require.NoError(t, err)

	assert.Equal(t, models.VerdictYes, record.Verdict)
	assert.False(t, record.IsFlagged())
}

func TestSubmit_PlayerRatesHost(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")

	_, err := engine.Submit(context.Background(), "player-1", "host-1", session.ID, models.TypeGame, models.VerdictNo, "")
	require.NoError(t, err)
}

func TestSubmit_SelfRating(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")

	_, err := engine.Submit(context.Background(), "host-1", "host-1", session.ID, models.TypeGame, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestSubmit_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")
	ctx := context.Background()

	_, err := engine.Submit(ctx, "host-1", "player-1", session.ID, models.TypeGame, models.VerdictYes, "")
	require.NoError(t, err)

	// Same tuple again, even with a different verdict, hits the unique index
	_, err = engine.Submit(ctx, "host-1", "player-1", session.ID, models.TypeGame, models.VerdictNo, "")
	assert.Equal(t, apperr.CodeDuplicateFeedback, apperr.CodeOf(err))

	// The opposite direction is a different tuple and fine
	_, err = engine.Submit(ctx, "player-1", "host-1", session.ID, models.TypeGame, models.VerdictYes, "")
	require.NoError(t, err)
}

func TestSubmit_SessionNotCompleted(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	session := &models.Session{
		HostID: "host-1",
		Game:   "Pathfinder",
		Date:   time.Now().AddDate(0, 0, 7),
		Roster: models.Roster{
			Confirmed: []models.RosterEntry{{UserID: "player-1"}},
		},
	}
	require.NoError(t, db.Create(session).Error)

	_, err := engine.Submit(context.Background(), "host-1", "player-1", session.ID, models.TypeGame, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeNotEligible, apperr.CodeOf(err))
}

func TestSubmit_NoRelationship(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")
	ctx := context.Background()

	// Two players at the same table cannot rate each other
	_, err := engine.Submit(ctx, "player-1", "player-2", session.ID, models.TypeGame, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeNotEligible, apperr.CodeOf(err))

	// A bystander cannot rate the host
	_, err = engine.Submit(ctx, "stranger", "host-1", session.ID, models.TypeGame, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeNotEligible, apperr.CodeOf(err))
}

func TestSubmit_TypeMismatch(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")

	// The session is a one-shot game, not a campaign
	_, err := engine.Submit(context.Background(), "host-1", "player-1", session.ID, models.TypeCampaign, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestSubmit_UnknownSession(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	_, err := engine.Submit(context.Background(), "host-1", "player-1", "no-such-id", models.TypeGame, models.VerdictYes, "")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestFlag_Once(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")
	ctx := context.Background()

	record, err := engine.Submit(ctx, "host-1", "player-1", session.ID, models.TypeGame, models.VerdictNo, "never showed up")
	require.NoError(t, err)

	flagged, err := engine.Flag(ctx, record.ID, "player-1", "retaliatory review")
	require.NoError(t, err)
	assert.True(t, flagged.IsFlagged())
	assert.Equal(t, "player-1", flagged.FlaggedBy)
	assert.NotNil(t, flagged.FlaggedAt)

	// Second flag loses, regardless of who files it
	_, err = engine.Flag(ctx, record.ID, "moderator-1", "spam")
	assert.Equal(t, apperr.CodeAlreadyFlagged, apperr.CodeOf(err))

	// First flagger's metadata is untouched
	reloaded := &models.FeedbackRecord{}
	require.NoError(t, db.First(reloaded, record.ID).Error)
	assert.Equal(t, "player-1", reloaded.FlaggedBy)
	assert.Equal(t, "retaliatory review", reloaded.FlagReason)
}

func TestFlag_RequiresReason(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	_, err := engine.Flag(context.Background(), 1, "player-1", "")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestFlag_UnknownRecord(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	_, err := engine.Flag(context.Background(), 999, "player-1", "spam")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

// Score is yes minus no; skips count toward totals but not the score, and
// flagged records still count.
func TestStats_ScoreDerivation(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	ctx := context.Background()

	verdicts := []models.Verdict{models.VerdictYes, models.VerdictYes, models.VerdictNo, models.VerdictSkip}
	var flagTarget uint
	for i, v := range verdicts {
		session := createCompletedSession(t, db, fmt.Sprintf("host-%d", i), "player-1")
		record, err := engine.Submit(ctx, session.HostID, "player-1", session.ID, models.TypeGame, v, "")
		require.NoError(t, err)
		if i == 0 {
			flagTarget = record.ID
		}
	}

	_, err := engine.Flag(ctx, flagTarget, "player-1", "unfair")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx, "player-1")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalRatings)
	assert.Equal(t, 2, stats.YesCount)
	assert.Equal(t, 1, stats.NoCount)
	assert.Equal(t, 1, stats.SkipCount)
	assert.Equal(t, 1, stats.Score)
}

func TestStats_NoRatings(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	stats, err := engine.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRatings)
	assert.Equal(t, 0, stats.Score)
}

func TestStatsWithComments_Visibility(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createCompletedSession(t, db, "host-1", "player-1")
	ctx := context.Background()

	_, err := engine.Submit(ctx, "host-1", "player-1", session.ID, models.TypeGame, models.VerdictYes, "brought snacks")
	require.NoError(t, err)

	// A third party sees only the aggregate
	rep, err := engine.StatsWithComments(ctx, "player-1", "someone-else", false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalRatings)
	assert.Nil(t, rep.Records)

	// The target sees the records
	rep, err = engine.StatsWithComments(ctx, "player-1", "player-1", false)
	require.NoError(t, err)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "brought snacks", rep.Records[0].Comment)

	// So does an admin
	rep, err = engine.StatsWithComments(ctx, "player-1", "moderator", true)
	require.NoError(t, err)
	assert.Len(t, rep.Records, 1)
}
