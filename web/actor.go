package web

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/gin-gonic/gin"
)

const activityContentType = activitypub.ContentType + "; charset=utf-8"

// wantsActivity reports whether the client asked for an ActivityStreams
// representation.
func wantsActivity(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "application/activity+json") || strings.Contains(accept, "application/ld+json")
}

func renderActivity(c *gin.Context, doc any) {
	c.Header("Content-Type", activityContentType)
	c.JSON(http.StatusOK, doc)
}

// handleActor serves the Person document to federation clients and sends
// browsers to the profile page.
func (s *Server) handleActor(c *gin.Context) {
	handle := c.Param("handle")
	if !wantsActivity(c) {
		c.Redirect(http.StatusFound, "/u/"+handle)
		return
	}
	person, err := s.Gateway.ActorDocument(c.Request.Context(), handle)
	if err != nil {
		s.respondError(c, err)
		return
	}
	renderActivity(c, person)
}

// handleInbox stores a delivered activity. Anything stored is answered with
// 202, whether or not it could be verified and applied.
func (s *Server) handleInbox(c *gin.Context) {
	handle := c.Param("handle")
	body, err := c.GetRawData()
	if err != nil {
		log.Warn("inbox: failed to read body", "handle", handle, "err", err)
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "Request body too large",
			"code":  "PAYLOAD_TOO_LARGE",
		})
		return
	}
	if err := s.Gateway.ReceiveActivity(c.Request.Context(), handle, body, c.Request); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
