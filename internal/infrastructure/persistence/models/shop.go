package models

import (
	"time"

	"github.com/shipnotify/backend/internal/domain/shop"
)

// SessionModel is the persistence model for shop.Session
type SessionModel struct {
	ID          string     `gorm:"type:varchar(255);primaryKey"`
	Shop        string     `gorm:"type:varchar(255);not null;index:idx_shop_sessions_shop"`
	State       string     `gorm:"type:varchar(255);not null;default:''"`
	IsOnline    bool       `gorm:"not null;default:false"`
	Scope       string     `gorm:"type:text;not null;default:''"`
	AccessToken string     `gorm:"type:text;not null;default:''"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	UserID      *int64     `gorm:"column:user_id"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SessionModel) TableName() string {
	return "shop_sessions"
}

// ToDomain converts the model to a domain session
func (m *SessionModel) ToDomain() *shop.Session {
	return &shop.Session{
		ID:          m.ID,
		Shop:        shop.Domain(m.Shop),
		State:       m.State,
		IsOnline:    m.IsOnline,
		Scope:       m.Scope,
		AccessToken: m.AccessToken,
		Expires:     m.ExpiresAt,
		UserID:      m.UserID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// SessionModelFromDomain converts a domain session to its model
func SessionModelFromDomain(s *shop.Session) *SessionModel {
	return &SessionModel{
		ID:          s.ID,
		Shop:        s.Shop.String(),
		State:       s.State,
		IsOnline:    s.IsOnline,
		Scope:       s.Scope,
		AccessToken: s.AccessToken,
		ExpiresAt:   s.Expires,
		UserID:      s.UserID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// InstallationModel is the persistence model for shop.Installation
type InstallationModel struct {
	Shop        string    `gorm:"type:varchar(255);primaryKey"`
	Scope       string    `gorm:"type:text;not null;default:''"`
	InstalledAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InstallationModel) TableName() string {
	return "shop_installations"
}

// ToDomain converts the model to a domain installation
func (m *InstallationModel) ToDomain() *shop.Installation {
	return &shop.Installation{
		Shop:        shop.Domain(m.Shop),
		Scope:       m.Scope,
		InstalledAt: m.InstalledAt,
	}
}

// InstallationModelFromDomain converts a domain installation to its model
func InstallationModelFromDomain(i *shop.Installation) *InstallationModel {
	return &InstallationModel{
		Shop:        i.Shop.String(),
		Scope:       i.Scope,
		InstalledAt: i.InstalledAt,
	}
}
