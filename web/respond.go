package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// respondError writes {"error", "code"} with the status of err's kind.
// Server error details only reach clients in development.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	message := err.Error()
	var typed *domain.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}

	if kind == domain.KindServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		if s.conf.IsDevelopment() {
			message = err.Error()
		} else {
			message = "internal server error"
		}
	}

	c.AbortWithStatusJSON(domain.HTTPStatus(err), gin.H{"error": message, "code": kind.String()})
}

// bind decodes the JSON body into req.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.respondError(c, domain.NewValidationError("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.respondError(c, domain.NewValidationError("%s must be a uuid", name))
		return uuid.Nil, false
	}
	return id, true
}

// pageQuery reads ?limit=&offset=, normalized.
func (s *Server) pageQuery(c *gin.Context) (domain.Page, bool) {
	var page domain.Page
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("%s must be an integer", name))
			return domain.Page{}, false
		}
		*dst = n
	}
	return page.Normalize(), true
}

// requester returns the authenticated actor id; routes behind RequireActor
// always have one.
func (s *Server) requester(c *gin.Context) uuid.UUID {
	id, _ := middleware.ActorID(c)
	return id
}

// viewer returns the optionally authenticated actor id.
func (s *Server) viewer(c *gin.Context) (uuid.UUID, bool) {
	return middleware.ActorID(c)
}

func created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}
