package models

import "time"

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	DisplayName      string    `json:"display_name,omitempty"`
	Language         Language  `json:"language"`
	PasswordHash     string    `json:"-"` // не отдаём наружу
	RoleID           int       `json:"role_id"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Language string `json:"language"`
}

// Language is the two-letter code used to pick notification copy.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageRussian Language = "ru"
)

// ParseLanguage returns fallback for anything it does not recognise.
func ParseLanguage(s string, fallback Language) Language {
	switch Language(s) {
	case LanguageEnglish, LanguageRussian:
		return Language(s)
	}
	return fallback
}
