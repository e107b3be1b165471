package schedule

import (
	"context"
	"errors"
	"fmt"

	"questtable-backend/internal/apperr"
	"questtable-backend/internal/directory"
	"questtable-backend/internal/models"

	"gorm.io/gorm"
)

// Service is the read-side facade the web layer calls. It composes session
// rows with host/vendor display info; it never mutates membership or
// feedback state.
type Service struct {
	db  *gorm.DB
	dir *directory.Directory
}

func New(db *gorm.DB, dir *directory.Directory) *Service {
	return &Service{db: db, dir: dir}
}

// SessionView is a session enriched with display info for its host and,
// when set, its vendor.
type SessionView struct {
	models.Session
	Host   *directory.BasicInfo `json:"host,omitempty"`
	Vendor *directory.BasicInfo `json:"vendor,omitempty"`
}

// Get returns a single enriched session.
func (s *Service) Get(ctx context.Context, sessionID string) (*SessionView, error) {
	session, err := models.GetSessionByID(s.db.WithContext(ctx), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session not found")
		}
		return nil, apperr.Unavailable(err)
	}

	views, err := s.enrich(ctx, []models.Session{*session})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListForUser returns every session the user hosts or occupies a roster
// set of, enriched. The LIKE clause is only a prefilter over the JSON
// roster column; the roster itself is the authority on membership.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]SessionView, error) {
	pattern := fmt.Sprintf("%%%q%%", userID)
	q := s.db.WithContext(ctx).Where("host_id = ?", userID)
	if s.db.Dialector.Name() == "postgres" {
		q = q.Or("roster::text LIKE ?", pattern)
	} else {
		q = q.Or("roster LIKE ?", pattern)
	}

	var candidates []models.Session
	if err := q.Order("date ASC").Find(&candidates).Error; err != nil {
		return nil, apperr.Unavailable(err)
	}

	sessions := candidates[:0]
	for _, session := range candidates {
		if session.HostID == userID || session.Roster.Contains(userID) {
			sessions = append(sessions, session)
		}
	}

	return s.enrich(ctx, sessions)
}

// enrich attaches host/vendor display info with a single deduplicated batch
// lookup for the whole result set.
func (s *Service) enrich(ctx context.Context, sessions []models.Session) ([]SessionView, error) {
	seen := make(map[string]bool)
	ids := make([]string, 0, len(sessions)*2)
	for _, session := range sessions {
		if !seen[session.HostID] {
			seen[session.HostID] = true
			ids = append(ids, session.HostID)
		}
		if session.VendorID != nil && !seen[*session.VendorID] {
			seen[*session.VendorID] = true
			ids = append(ids, *session.VendorID)
		}
	}

	info, err := s.dir.BasicInfo(ctx, ids)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	views := make([]SessionView, len(sessions))
	for i, session := range sessions {
		views[i] = SessionView{Session: session}
		if host, ok := info[session.HostID]; ok {
			views[i].Host = &host
		}
		if session.VendorID != nil {
			if vendor, ok := info[*session.VendorID]; ok {
				views[i].Vendor = &vendor
			}
		}
	}

	return views, nil
}
