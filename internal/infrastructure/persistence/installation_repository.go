package persistence

import (
	"context"
	"fmt"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInstallationRegistry implements shop.InstallationRegistry using GORM
type GormInstallationRegistry struct {
	db *gorm.DB
}

// NewGormInstallationRegistry creates a new GormInstallationRegistry
func NewGormInstallationRegistry(db *gorm.DB) *GormInstallationRegistry {
	return &GormInstallationRegistry{db: db}
}

var _ shop.InstallationRegistry = (*GormInstallationRegistry)(nil)

// Includes reports whether the tenant has the app installed
func (r *GormInstallationRegistry) Includes(ctx context.Context, d shop.Domain) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InstallationModel{}).
		Where("shop = ?", d.String()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check installation of %s: %w", d, err)
	}
	return count > 0, nil
}

// Add records the installation, refreshing scope and timestamp on reinstall
func (r *GormInstallationRegistry) Add(ctx context.Context, inst *shop.Installation) error {
	if inst == nil || inst.Shop.IsZero() {
		return shared.ErrInvalidShop
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop"}},
		DoUpdates: clause.AssignmentColumns([]string{"scope", "installed_at"}),
	}).Create(models.InstallationModelFromDomain(inst)).Error
	if err != nil {
		return fmt.Errorf("add installation of %s: %w", inst.Shop, err)
	}
	return nil
}

// Delete removes the tenant. Deleting an absent tenant is a no-op, which keeps
// redelivered and concurrent uninstall webhooks harmless.
func (r *GormInstallationRegistry) Delete(ctx context.Context, d shop.Domain) error {
	if err := r.db.WithContext(ctx).
		Where("shop = ?", d.String()).
		Delete(&models.InstallationModel{}).Error; err != nil {
		return fmt.Errorf("delete installation of %s: %w", d, err)
	}
	return nil
}
