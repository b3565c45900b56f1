package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSessionRepository implements shop.SessionRepository using GORM
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

var _ shop.SessionRepository = (*GormSessionRepository)(nil)

// FindByShop returns every session of the tenant, oldest first
func (r *GormSessionRepository) FindByShop(ctx context.Context, d shop.Domain) ([]*shop.Session, error) {
	var rows []models.SessionModel
	if err := r.db.WithContext(ctx).
		Where("shop = ?", d.String()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find sessions for %s: %w", d, err)
	}

	sessions := make([]*shop.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].ToDomain())
	}
	return sessions, nil
}

// FindByID finds a session by its ID
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*shop.Session, error) {
	var row models.SessionModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return row.ToDomain(), nil
}

// Store inserts the session or replaces the one with the same ID
func (r *GormSessionRepository) Store(ctx context.Context, s *shop.Session) error {
	if s == nil || s.ID == "" {
		return shared.ErrInvalidInput.WithMessage("session id is required")
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"shop", "state", "is_online", "scope", "access_token", "expires_at", "user_id", "updated_at",
		}),
	}).Create(models.SessionModelFromDomain(s)).Error
	if err != nil {
		return fmt.Errorf("store session %s: %w", s.ID, err)
	}
	return nil
}

// DeleteByShop removes every session of the tenant. Deleting none is not an error.
func (r *GormSessionRepository) DeleteByShop(ctx context.Context, d shop.Domain) error {
	if err := r.db.WithContext(ctx).
		Where("shop = ?", d.String()).
		Delete(&models.SessionModel{}).Error; err != nil {
		return fmt.Errorf("delete sessions for %s: %w", d, err)
	}
	return nil
}
