package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const realtimeHeartbeatInterval = 25 * time.Second

type createNoteRequest struct {
	Content string `json:"content"`
}

type realtimeEventPayload struct {
	NoteID    string      `json:"noteId"`
	Note      *notes.Note `json:"note,omitempty"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

func (h *httpHandler) currentUserID(c *gin.Context) (notes.UserID, bool) {
	userID, err := notes.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, "Invalid token")
		return "", false
	}
	return userID, true
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	list, err := h.notesService.ListNotes(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidRequest, "Invalid request")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request createNoteRequest
	if !bindJSON(c, &request) {
		return
	}
	note, err := h.notesService.CreateNote(c.Request.Context(), userID, request.Content)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidRequest, "Invalid request")
		return
	}
	h.metrics.NoteChanges.WithLabelValues(string(notes.ChangeKindCreated)).Inc()
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	// An id that cannot name a stored note is a delete without effect.
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, messageResponse{Message: "Deleted"})
		return
	}
	removed, err := h.notesService.DeleteNote(c.Request.Context(), userID, noteID)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidRequest, "Invalid request")
		return
	}
	if removed {
		h.metrics.NoteChanges.WithLabelValues(string(notes.ChangeKindDeleted)).Inc()
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Deleted"})
}

// handleNotesStream holds an event stream open and forwards the caller's note changes.
func (h *httpHandler) handleNotesStream(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339), "source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("realtime stream opened", zap.String("user_id", userID.String()))
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("realtime stream closed", zap.String("user_id", userID.String()))
			return
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339), "source": realtimeSourceBackend})
			c.Writer.Flush()
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				NoteID:    message.NoteID,
				Note:      message.Note,
				Timestamp: message.Timestamp.Format(time.RFC3339),
				Source:    realtimeSourceBackend,
			})
			c.Writer.Flush()
		}
	}
}
