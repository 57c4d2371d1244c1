package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Note is a single owned note. Content is stored verbatim.
type Note struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null" json:"_id"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_notes_user_created,priority:1" json:"userId"`
	Content          string `gorm:"column:content;type:text;not null;default:''" json:"content"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notes_user_created,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// ChangeKind names the note mutations published to listeners.
type ChangeKind string

const (
	ChangeKindCreated ChangeKind = "note-created"
	ChangeKindDeleted ChangeKind = "note-deleted"
)

// Change describes a committed note mutation.
type Change struct {
	Kind   ChangeKind `json:"type"`
	UserID string     `json:"userId"`
	NoteID string     `json:"noteId"`
	Note   *Note      `json:"note,omitempty"`
}
