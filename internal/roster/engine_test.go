package roster

import (
	"context"
	"fmt"
	"sync"
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
	// Named shared-cache database so every pooled connection sees the schema
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Session{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

func createTestSession(t *testing.T, db *gorm.DB, capacity *int, requiresApproval bool) *models.Session {
	session := &models.Session{
		HostID:           "host-1",
		Game:             "Dungeons & Dragons",
		Date:             time.Now().AddDate(0, 0, 7),
		Capacity:         capacity,
		RequiresApproval: requiresApproval,
		Roster: models.Roster{
			Confirmed: []models.RosterEntry{},
			Pending:   []models.RosterEntry{},
			Denied:    []string{},
		},
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func intPtr(i int) *int { return &i }

func TestJoin_OpenSession(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(4), false)

	updated, err := engine.Join(context.Background(), session.ID, "player-1", "char-1", "Thorin")
	require.NoError(t, err)

	assert.Equal(t, 0, updated.Roster.ConfirmedIndex("player-1"))
	assert.Equal(t, "Thorin", updated.Roster.Confirmed[0].CharacterName)
	assert.Empty(t, updated.Roster.Pending)
}

func TestJoin_RequiresApprovalLandsInPending(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(4), true)

	updated, err := engine.Join(context.Background(), session.ID, "player-1", "", "")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, updated.Roster.PendingIndex("player-1"), 0)
	assert.Empty(t, updated.Roster.Confirmed)
}

func TestJoin_Twice(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(4), false)

	_, err := engine.Join(context.Background(), session.ID, "player-1", "", "")
	require.NoError(t, err)

	_, err = engine.Join(context.Background(), session.ID, "player-1", "", "")
	assert.Equal(t, apperr.CodeAlreadyMember, apperr.CodeOf(err))
}

func TestJoin_UnknownSession(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)

	_, err := engine.Join(context.Background(), "no-such-id", "player-1", "", "")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

// Exactly min(N, K) of N joiners get a seat at a K-seat table; the rest
// observe CapacityExceeded. Retrying a loser changes nothing.
func TestJoin_CapacityNeverExceeded(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(3), false)

	succeeded := 0
	var capacityErrs int
	for i := 0; i < 10; i++ {
		_, err := engine.Join(context.Background(), session.ID, fmt.Sprintf("player-%d", i), "", "")
		switch {
		case err == nil:
			succeeded++
		case apperr.CodeOf(err) == apperr.CodeCapacityExceeded:
			capacityErrs++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, capacityErrs)

	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	assert.Len(t, final.Roster.Confirmed, 3)
}

// N goroutines race for a K-seat table: exactly K win, the rest observe
// CapacityExceeded. A loser's retries are bounded because the version only
// moves on committed mutations.
func TestJoin_ConcurrentRaceForSeats(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One pooled connection keeps sqlite from surfacing busy errors; the
	// goroutines still interleave freely between load and conditional write
	sqlDB.SetMaxOpenConns(1)

	engine := New(db)
	session := createTestSession(t, db, intPtr(3), false)

	const players = 8
	results := make(chan error, players)
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Join(context.Background(), session.ID, fmt.Sprintf("racer-%d", n), "", "")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperr.CodeOf(err) == apperr.CodeCapacityExceeded:
			rejected++
		default:
			t.Fatalf("unexpected join failure: %v", err)
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, players-3, rejected)

	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	assert.Len(t, final.Roster.Confirmed, 3)
	// Winners hold exactly one seat each
	seen := make(map[string]bool)
	for _, e := range final.Roster.Confirmed {
		assert.False(t, seen[e.UserID], e.UserID)
		seen[e.UserID] = true
	}
	assert.Empty(t, final.Roster.Pending)
}

func TestJoin_SeatFreedByLeaveIsReusable(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(1), false)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	_, err = engine.Join(ctx, session.ID, "player-2", "", "")
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))

	_, err = engine.Leave(ctx, session.ID, "player-1")
	require.NoError(t, err)

	updated, err := engine.Join(ctx, session.ID, "player-2", "", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, updated.Roster.ConfirmedIndex("player-2"), 0)
}

func TestJoin_NilCapacityIsUnlimited(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, false)

	for i := 0; i < 25; i++ {
		_, err := engine.Join(context.Background(), session.ID, fmt.Sprintf("player-%d", i), "", "")
		require.NoError(t, err)
	}
}

func TestLeave_NotAMember(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, false)

	_, err := engine.Leave(context.Background(), session.ID, "stranger")
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
}

func TestLeave_PendingRequestWithdrawn(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	updated, err := engine.Leave(ctx, session.ID, "player-1")
	require.NoError(t, err)
	assert.Empty(t, updated.Roster.Pending)

	// Withdrawn, not denied: joining again is allowed
	_, err = engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)
}

func TestApprove_MovesPendingToConfirmed(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(4), true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "char-9", "Elora")
	require.NoError(t, err)

	updated, err := engine.Approve(ctx, session.ID, "host-1", "player-1")
	require.NoError(t, err)

	assert.Empty(t, updated.Roster.Pending)
	require.Len(t, updated.Roster.Confirmed, 1)
	// The seat keeps the character chosen at join time
	assert.Equal(t, "Elora", updated.Roster.Confirmed[0].CharacterName)
}

func TestApprove_OnlyHost(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, session.ID, "player-2", "player-1")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestApprove_RespectsCapacity(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(1), true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)
	_, err = engine.Join(ctx, session.ID, "player-2", "", "")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, session.ID, "host-1", "player-1")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, session.ID, "host-1", "player-2")
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))

	// The losing player is still pending, not dropped
	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final.Roster.PendingIndex("player-2"), 0)
}

func TestApprove_NotPending(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, true)

	_, err := engine.Approve(context.Background(), session.ID, "host-1", "player-1")
	assert.Equal(t, apperr.CodeNotPending, apperr.CodeOf(err))
}

func TestDeny_IsDurable(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	updated, err := engine.Deny(ctx, session.ID, "host-1", "player-1")
	require.NoError(t, err)
	assert.True(t, updated.Roster.IsDenied("player-1"))
	assert.Empty(t, updated.Roster.Pending)

	// A denied player cannot request a seat again
	_, err = engine.Join(ctx, session.ID, "player-1", "", "")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	// And leaving doesn't clear the denial
	_, err = engine.Leave(ctx, session.ID, "player-1")
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
}

func TestDeny_OnlyHost(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, true)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	_, err = engine.Deny(ctx, session.ID, "player-1", "player-1")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestUpdateCharacter(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, false)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	updated, err := engine.UpdateCharacter(ctx, session.ID, "player-1", "char-3", "Grimnir")
	require.NoError(t, err)
	assert.Equal(t, "Grimnir", updated.Roster.Confirmed[0].CharacterName)

	// Pending players have no seat yet and no character slot
	sessionB := createTestSession(t, db, nil, true)
	_, err = engine.Join(ctx, sessionB.ID, "player-2", "", "")
	require.NoError(t, err)
	_, err = engine.UpdateCharacter(ctx, sessionB.ID, "player-2", "char-4", "Vex")
	assert.Equal(t, apperr.CodeNotAPlayer, apperr.CodeOf(err))
}

// Capacity cannot drop below the number of players already seated.
func TestResize_CannotShrinkBelowConfirmed(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(3), false)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)
	_, err = engine.Join(ctx, session.ID, "player-2", "", "")
	require.NoError(t, err)

	_, err = engine.Resize(ctx, session.ID, "host-1", intPtr(1))
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))

	// The rejected shrink left both the seat count and the roster alone
	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	require.NotNil(t, final.Capacity)
	assert.Equal(t, 3, *final.Capacity)
	assert.Len(t, final.Roster.Confirmed, 2)

	// Shrinking to exactly the confirmed count is allowed, and the table
	// is then full
	updated, err := engine.Resize(ctx, session.ID, "host-1", intPtr(2))
	require.NoError(t, err)
	require.NotNil(t, updated.Capacity)
	assert.Equal(t, 2, *updated.Capacity)

	_, err = engine.Join(ctx, session.ID, "player-3", "", "")
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))
}

func TestResize_OnlyHost(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(2), false)

	_, err := engine.Resize(context.Background(), session.ID, "player-1", intPtr(4))
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestResize_NilLiftsTheLimit(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, intPtr(1), false)
	ctx := context.Background()

	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)
	_, err = engine.Join(ctx, session.ID, "player-2", "", "")
	require.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))

	updated, err := engine.Resize(ctx, session.ID, "host-1", nil)
	require.NoError(t, err)
	assert.Nil(t, updated.Capacity)

	_, err = engine.Join(ctx, session.ID, "player-2", "", "")
	require.NoError(t, err)
}

// A writer holding a stale version must touch zero rows. This pins down the
// guard the whole membership lifecycle rests on.
func TestConditionalWrite_StaleVersionTouchesNothing(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, false)
	ctx := context.Background()

	// Bump the version the way a concurrent committed write would
	_, err := engine.Join(ctx, session.ID, "player-1", "", "")
	require.NoError(t, err)

	// A write conditioned on the pre-join version loses
	res := db.Model(&models.Session{}).
		Where("id = ? AND version = ?", session.ID, session.Version).
		Updates(map[string]interface{}{"roster": session.Roster, "version": session.Version + 1})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	// The committed join is intact
	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final.Roster.ConfirmedIndex("player-1"), 0)
}

// The engine retries after losing a round, so a single interleaved writer
// never surfaces to the caller.
func TestMutate_RetriesAfterLostRound(t *testing.T) {
	db := setupTestDB(t)
	engine := New(db)
	session := createTestSession(t, db, nil, false)
	ctx := context.Background()

	interfered := false
	_, err := engine.mutate(ctx, session.ID, func(s *models.Session) error {
		if !interfered {
			interfered = true
			// Concurrent writer commits between our load and our write
			res := db.Model(&models.Session{}).
				Where("id = ?", s.ID).
				Update("version", gorm.Expr("version + 1"))
			require.NoError(t, res.Error)
		}
		s.Roster.Confirmed = append(s.Roster.Confirmed, models.RosterEntry{UserID: "player-9"})
		return nil
	})
	require.NoError(t, err)

	final, err := models.GetSessionByID(db, session.ID)
	require.NoError(t, err)
	// The retry re-ran apply against fresh state, so the entry appears once
	count := 0
	for _, e := range final.Roster.Confirmed {
		if e.UserID == "player-9" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
