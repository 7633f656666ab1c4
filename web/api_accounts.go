package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/fedigraph/actors"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/gin-gonic/gin"
)

// TokenResponse carries an issued API token.
type TokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Actor     *domain.Actor `json:"actor"`
}

type loginRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type followRequest struct {
	FederationID string `json:"federationId" binding:"required"`
}

// AccountView is an actor with its follow counts.
type AccountView struct {
	*domain.Actor
	FollowersCount int `json:"followersCount"`
	FollowingCount int `json:"followingCount"`
}

func (s *Server) issue(c *gin.Context, status int, actor *domain.Actor) {
	token, expires, err := s.Auth.IssueToken(actor.Id)
	if err != nil {
		s.respondError(c, domain.NewServerError("failed to issue token", err))
		return
	}
	c.JSON(status, TokenResponse{Token: token, ExpiresAt: expires, Actor: actor})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req actors.CreateActorRequest
	if !s.bind(c, &req) {
		return
	}
	actor, err := s.Directory.CreateLocalActor(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.issue(c, http.StatusCreated, actor)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if !s.bind(c, &req) {
		return
	}
	actor, err := s.Directory.Authenticate(c.Request.Context(), req.Handle, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.issue(c, http.StatusOK, actor)
}

func (s *Server) accountView(c *gin.Context, actor *domain.Actor) {
	ctx := c.Request.Context()
	followers, err := s.Directory.FollowerCount(ctx, actor.FederationID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	following, err := s.Directory.FollowingCount(ctx, actor.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccountView{Actor: actor, FollowersCount: followers, FollowingCount: following})
}

func (s *Server) handleGetAccount(c *gin.Context) {
	handle := c.Param("handle")
	actor, err := s.Directory.GetByHandle(c.Request.Context(), handle)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if actor == nil {
		s.respondError(c, domain.NewNotFoundError("actor", handle))
		return
	}
	actor.Email = ""
	s.accountView(c, actor)
}

func (s *Server) handleSearchAccounts(c *gin.Context) {
	limit := actors.MaxSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("limit must be an integer"))
			return
		}
		limit = n
	}
	found, err := s.Directory.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	for _, a := range found {
		a.Email = ""
	}
	c.JSON(http.StatusOK, gin.H{"items": found})
}

func (s *Server) handleListAccountPosts(c *gin.Context) {
	ctx := c.Request.Context()
	handle := c.Param("handle")
	page, ok := s.pageQuery(c)
	if !ok {
		return
	}
	actor, err := s.Directory.GetByHandle(ctx, handle)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if actor == nil {
		s.respondError(c, domain.NewNotFoundError("actor", handle))
		return
	}
	viewer, _ := s.viewer(c)
	list, err := s.Posts.ListByAuthor(ctx, actor.Id, viewer, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) currentActor(c *gin.Context) (*domain.Actor, bool) {
	id := s.requester(c)
	actor, err := s.Directory.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if actor == nil || actor.Remote {
		s.respondError(c, domain.NewUnauthorizedError("token subject is not a local actor"))
		return nil, false
	}
	return actor, true
}

func (s *Server) handleGetMe(c *gin.Context) {
	if actor, ok := s.currentActor(c); ok {
		s.accountView(c, actor)
	}
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	var req actors.UpdateProfileRequest
	if !s.bind(c, &req) {
		return
	}
	actor, err := s.Directory.UpdateProfile(c.Request.Context(), s.requester(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actor)
}

func (s *Server) handleDeleteMe(c *gin.Context) {
	if err := s.Directory.Delete(c.Request.Context(), s.requester(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFollow(c *gin.Context) {
	var req followRequest
	if !s.bind(c, &req) {
		return
	}
	applied, err := s.Directory.Follow(c.Request.Context(), s.requester(c), req.FederationID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": true, "applied": applied})
}

func (s *Server) handleUnfollow(c *gin.Context) {
	target := c.Query("federationId")
	if target == "" {
		s.respondError(c, domain.NewValidationError("federationId is required"))
		return
	}
	applied, err := s.Directory.Unfollow(c.Request.Context(), s.requester(c), target)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": false, "applied": applied})
}
