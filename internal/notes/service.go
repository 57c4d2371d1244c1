package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "notes.service.new"
	opListNotes  = "notes.list_notes"
	opCreateNote = "notes.create_note"
	opDeleteNote = "notes.delete_note"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ChangePublisher receives committed note mutations.
type ChangePublisher interface {
	Publish(change Change)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  ChangePublisher
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  ChangePublisher
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// ListNotes returns the user's notes in creation order. Every call reads the store.
func (s *Service) ListNotes(ctx context.Context, userID UserID) ([]Note, error) {
	notes := make([]Note, 0)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at_s ASC").
		Order("id ASC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	return notes, nil
}

// CreateNote persists content verbatim under a fresh identifier.
func (s *Service) CreateNote(ctx context.Context, userID UserID, content string) (Note, error) {
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return Note{}, newServiceError(opCreateNote, "id_generation_failed", err)
	}

	note := Note{
		ID:               noteID,
		UserID:           userID.String(),
		Content:          content,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID))
		return Note{}, newServiceError(opCreateNote, "insert_failed", err)
	}

	created := note
	s.publish(Change{Kind: ChangeKindCreated, UserID: note.UserID, NoteID: note.ID, Note: &created})
	return note, nil
}

// DeleteNote removes the note only when it belongs to userID and reports whether
// a row was removed. Deleting a missing or foreign note succeeds without effect.
func (s *Service) DeleteNote(ctx context.Context, userID UserID, noteID NoteID) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", noteID.String(), userID.String()).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDeleteNote, "delete_failed", result.Error,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID.String()))
		return false, newServiceError(opDeleteNote, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	s.publish(Change{Kind: ChangeKindDeleted, UserID: userID.String(), NoteID: noteID.String()})
	return true, nil
}

func (s *Service) publish(change Change) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(change)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
