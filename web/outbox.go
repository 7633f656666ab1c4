package web

import (
	"strconv"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleOutbox serves the outbox root, or one page of it with ?page=n.
func (s *Server) handleOutbox(c *gin.Context) {
	page := 0
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("page must be an integer"))
			return
		}
		page = n
	}

	doc, err := s.Gateway.OutboxDocument(c.Request.Context(), c.Param("handle"), page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	renderActivity(c, doc)
}

func (s *Server) handleFollowers(c *gin.Context) {
	doc, err := s.Gateway.FollowersDocument(c.Request.Context(), c.Param("handle"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	renderActivity(c, doc)
}

func (s *Server) handleFollowing(c *gin.Context) {
	doc, err := s.Gateway.FollowingDocument(c.Request.Context(), c.Param("handle"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	renderActivity(c, doc)
}

// handleNote serves a published post as a Note object.
func (s *Server) handleNote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, domain.NewNotFoundError("post", c.Param("id")))
		return
	}
	note, err := s.Gateway.NoteObject(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	renderActivity(c, note)
}
