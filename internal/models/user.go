package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User представляет пользователя площадки
type User struct {
	ID            uuid.UUID       `json:"id"`
	Username      string          `json:"username"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	PasswordHash  string          `json:"-"`
	AvatarURL     string          `json:"avatar_url,omitempty"`
	Bio           string          `json:"bio,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
	RatingAverage decimal.Decimal `json:"rating_average"`
	RatingCount   int             `json:"rating_count"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UserSummary представляет минимальную информацию о пользователе для API
type UserSummary struct {
	ID            uuid.UUID       `json:"id"`
	Username      string          `json:"username,omitempty"`
	AvatarURL     string          `json:"avatar_url,omitempty"`
	RatingAverage decimal.Decimal `json:"rating_average"`
	RatingCount   int             `json:"rating_count"`
}

// Summary возвращает публичную карточку пользователя
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:            u.ID,
		Username:      u.Username,
		AvatarURL:     u.AvatarURL,
		RatingAverage: u.RatingAverage,
		RatingCount:   u.RatingCount,
	}
}
