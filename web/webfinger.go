package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const jrdContentType = "application/jrd+json; charset=utf-8"

// handleWebfinger answers /.well-known/webfinger?resource=acct:user@host.
func (s *Server) handleWebfinger(c *gin.Context) {
	wf, err := s.Gateway.ResolveWebfinger(c.Request.Context(), c.Query("resource"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Type", jrdContentType)
	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, wf)
}
