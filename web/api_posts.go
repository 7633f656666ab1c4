package web

import (
	"context"
	"net/http"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/posts"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MutationResponse reports the entity after a like or share and whether
// the call changed it.
type MutationResponse struct {
	Post    *domain.Post    `json:"post,omitempty"`
	Comment *domain.Comment `json:"comment,omitempty"`
	Applied bool            `json:"applied"`
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// canView reports whether viewerID may read post. Beyond published posts,
// followers-only posts are visible to the author's followers.
func (s *Server) canView(ctx context.Context, post *domain.Post, viewerID uuid.UUID) (bool, error) {
	if post.IsPublished() || post.AuthorID == viewerID {
		return true, nil
	}
	if viewerID == uuid.Nil || post.Visibility != domain.VisibilityFollowers {
		return false, nil
	}
	viewer, err := s.Directory.GetByID(ctx, viewerID)
	if err != nil || viewer == nil {
		return false, err
	}
	author, err := s.Directory.GetByID(ctx, post.AuthorID)
	if err != nil || author == nil {
		return false, err
	}
	return viewer.IsFollowing(author.FederationID), nil
}

// visiblePost loads the :id post, answering 404 when it is missing or
// hidden from the requester.
func (s *Server) visiblePost(c *gin.Context) (*domain.Post, bool) {
	id, ok := s.uuidParam(c, "id")
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	post, err := s.Posts.GetPost(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if post != nil {
		viewer, _ := s.viewer(c)
		visible, err := s.canView(ctx, post, viewer)
		if err != nil {
			s.respondError(c, err)
			return nil, false
		}
		if visible {
			return post, true
		}
	}
	s.respondError(c, domain.NewNotFoundError("post", id))
	return nil, false
}

func (s *Server) handleCreatePost(c *gin.Context) {
	var req posts.CreatePostRequest
	if !s.bind(c, &req) {
		return
	}
	req.AuthorID = s.requester(c)
	post, err := s.Posts.CreatePost(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	created(c, post)
}

func (s *Server) handleGetPost(c *gin.Context) {
	if post, ok := s.visiblePost(c); ok {
		c.JSON(http.StatusOK, post)
	}
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	id, ok := s.uuidParam(c, "id")
	if !ok {
		return
	}
	var req posts.UpdatePostRequest
	if !s.bind(c, &req) {
		return
	}
	post, err := s.Posts.UpdatePost(c.Request.Context(), id, s.requester(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *Server) handleDeletePost(c *gin.Context) {
	id, ok := s.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := s.Posts.DeletePost(c.Request.Context(), id, s.requester(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type postMutation func(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)

func (s *Server) mutatePost(c *gin.Context, op postMutation) {
	post, ok := s.visiblePost(c)
	if !ok {
		return
	}
	updated, applied, err := op(c.Request.Context(), post.Id, s.requester(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MutationResponse{Post: updated, Applied: applied})
}

func (s *Server) handleLikePost(c *gin.Context)    { s.mutatePost(c, s.Posts.Like) }
func (s *Server) handleUnlikePost(c *gin.Context)  { s.mutatePost(c, s.Posts.Unlike) }
func (s *Server) handleSharePost(c *gin.Context)   { s.mutatePost(c, s.Posts.Share) }
func (s *Server) handleUnsharePost(c *gin.Context) { s.mutatePost(c, s.Posts.Unshare) }

func (s *Server) handleListComments(c *gin.Context) {
	post, ok := s.visiblePost(c)
	if !ok {
		return
	}
	page, ok := s.pageQuery(c)
	if !ok {
		return
	}
	list, err := s.Comments.ListForPost(c.Request.Context(), post.Id, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateComment(c *gin.Context) {
	post, ok := s.visiblePost(c)
	if !ok {
		return
	}
	var req commentRequest
	if !s.bind(c, &req) {
		return
	}
	comment, err := s.Comments.CreateComment(c.Request.Context(), post.Id, s.requester(c), req.Content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	created(c, comment)
}

func (s *Server) handleDeleteComment(c *gin.Context) {
	id, ok := s.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := s.Comments.DeleteComment(c.Request.Context(), id, s.requester(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commentMutation func(ctx context.Context, commentID, actorID uuid.UUID) (*domain.Comment, bool, error)

func (s *Server) mutateComment(c *gin.Context, op commentMutation) {
	id, ok := s.uuidParam(c, "id")
	if !ok {
		return
	}
	updated, applied, err := op(c.Request.Context(), id, s.requester(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MutationResponse{Comment: updated, Applied: applied})
}

func (s *Server) handleLikeComment(c *gin.Context)   { s.mutateComment(c, s.Comments.Like) }
func (s *Server) handleUnlikeComment(c *gin.Context) { s.mutateComment(c, s.Comments.Unlike) }
