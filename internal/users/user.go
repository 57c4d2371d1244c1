package users

import (
	"strings"
	"time"
)

// User is the persisted identity record. Email is the unique lookup key.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"_id"`
	Name         string    `gorm:"column:name;size:320;not null;default:''" json:"name"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null;default:''" json:"-"`
	GoogleID     string    `gorm:"column:google_id;size:190;not null;default:''" json:"googleId,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// NewUser describes the fields supplied when creating a user.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	GoogleID     string
}

// NormalizeEmail trims and lower-cases an address so lookups are case insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayNameFromEmail derives a fallback display name from the local part of an address.
func DisplayNameFromEmail(email string) string {
	normalized := NormalizeEmail(email)
	if at := strings.Index(normalized, "@"); at > 0 {
		return normalized[:at]
	}
	return normalized
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
