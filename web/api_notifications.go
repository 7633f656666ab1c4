package web

import (
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const streamBuffer = 16

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required"`
}

func (s *Server) handleListNotifications(c *gin.Context) {
	page, ok := s.pageQuery(c)
	if !ok {
		return
	}
	var read *bool
	if raw := c.Query("read"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("read must be a boolean"))
			return
		}
		read = &v
	}
	list, err := s.Fanout.ListForRecipient(c.Request.Context(), s.requester(c), page, read)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	n, err := s.Fanout.UnreadCount(c.Request.Context(), s.requester(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req markReadRequest
	if !s.bind(c, &req) {
		return
	}
	n, err := s.Fanout.MarkRead(c.Request.Context(), s.requester(c), req.IDs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	n, err := s.Fanout.MarkAllRead(c.Request.Context(), s.requester(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// handleNotificationStream relays the requester's new notifications as
// server-sent events until the client disconnects.
func (s *Server) handleNotificationStream(c *gin.Context) {
	if s.Realtime == nil {
		s.respondError(c, domain.NewNotFoundError("stream", "notifications"))
		return
	}
	ctx := c.Request.Context()
	actorID := s.requester(c)

	messages := make(chan string, streamBuffer)
	err := s.Realtime.Subscribe(ctx, actorID, func(payload string) {
		select {
		case messages <- payload:
		default:
			log.Warn("notification stream is behind, dropping event", "actor", actorID)
		}
	})
	if err != nil {
		s.respondError(c, domain.NewServerError("failed to subscribe to notifications", err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case payload := <-messages:
			c.SSEvent("notification", payload)
			return true
		}
	})
}
