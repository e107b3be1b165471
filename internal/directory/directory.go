package directory

import (
	"context"

	"questtable-backend/internal/models"

	"gorm.io/gorm"
)

// BasicInfo is the display payload attached to roster members, hosts and
// vendors. Anything heavier goes through the full user endpoints.
type BasicInfo struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Directory resolves user and vendor ids to display info in one batched
// round trip per table. Callers are expected to deduplicate ids first.
type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// BasicInfo looks up the given ids across users and vendors. Unknown ids are
// simply absent from the result map.
func (d *Directory) BasicInfo(ctx context.Context, ids []string) (map[string]BasicInfo, error) {
	out := make(map[string]BasicInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []models.User
	if err := d.db.WithContext(ctx).
		Select("id, first_name, last_name, avatar_url").
		Where("id IN ?", ids).
		Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = BasicInfo{
			Name:      users[i].GetDisplayName(),
			AvatarURL: users[i].AvatarURL,
		}
	}

	var vendors []models.Vendor
	if err := d.db.WithContext(ctx).
		Select("id, name, avatar_url").
		Where("id IN ?", ids).
		Find(&vendors).Error; err != nil {
		return nil, err
	}
	for i := range vendors {
		out[vendors[i].ID] = BasicInfo{
			Name:      vendors[i].Name,
			AvatarURL: vendors[i].AvatarURL,
		}
	}

	return out, nil
}
