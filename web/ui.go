package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const postsPerPage = 20

// ProfileView is the public profile served at /u/:handle.
type ProfileView struct {
	Title      string     `json:"title"`
	User       UserView   `json:"user"`
	Followers  int        `json:"followers"`
	Following  int        `json:"following"`
	Posts      []PostView `json:"posts"`
	TotalPosts int        `json:"totalPosts"`
	HasPrev    bool       `json:"hasPrev"`
	HasNext    bool       `json:"hasNext"`
	PrevPage   int        `json:"prevPage,omitempty"`
	NextPage   int        `json:"nextPage,omitempty"`
}

type UserView struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Summary     string `json:"summary,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
	ActorURL    string `json:"actorUrl"`
	JoinedAgo   string `json:"joinedAgo"`
}

type PostView struct {
	Id          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary,omitempty"`
	ContentHTML string    `json:"contentHtml"`
	LikesCount  int       `json:"likesCount"`
	SharesCount int       `json:"sharesCount"`
	TimeAgo     string    `json:"timeAgo"`
}

func formatTimeAgo(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return plural(int(duration.Minutes()), "minute")
	case duration < 24*time.Hour:
		return plural(int(duration.Hours()), "hour")
	case duration < 30*24*time.Hour:
		return plural(int(duration.Hours()/24), "day")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// pageNumber reads ?page=, defaulting to 1 for missing or invalid values.
func pageNumber(c *gin.Context) int {
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		return p
	}
	return 1
}

func (s *Server) handleProfile(c *gin.Context) {
	ctx := c.Request.Context()
	handle := c.Param("handle")

	actor, err := s.Directory.GetByHandle(ctx, handle)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if actor == nil {
		s.respondError(c, domain.NewNotFoundError("actor", handle))
		return
	}

	page := pageNumber(c)
	list, err := s.Posts.ListPublicByAuthor(ctx, actor.Id, domain.Page{Limit: postsPerPage, Offset: (page - 1) * postsPerPage})
	if err != nil {
		s.respondError(c, err)
		return
	}
	followers, err := s.Directory.FollowerCount(ctx, actor.FederationID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	now := time.Now()
	views := make([]PostView, 0, len(list.Items))
	for _, post := range list.Items {
		views = append(views, PostView{
			Id:          post.Id,
			URL:         post.FederationID,
			Summary:     post.Summary,
			ContentHTML: util.RenderContent(post.Content),
			LikesCount:  post.LikesCount,
			SharesCount: post.SharesCount,
			TimeAgo:     formatTimeAgo(post.PublishedAt, now),
		})
	}

	data := ProfileView{
		Title: fmt.Sprintf("@%s", actor.Handle),
		User: UserView{
			Handle:      actor.FullHandle,
			DisplayName: actor.Name(),
			Summary:     actor.Summary,
			IconURL:     actor.IconURL,
			ActorURL:    actor.FederationID,
			JoinedAgo:   formatTimeAgo(actor.CreatedAt, now),
		},
		Followers:  followers,
		Following:  len(actor.Following),
		Posts:      views,
		TotalPosts: list.Total,
		HasPrev:    page > 1,
		HasNext:    list.Offset+len(list.Items) < list.Total,
	}
	if data.HasPrev {
		data.PrevPage = page - 1
	}
	if data.HasNext {
		data.NextPage = page + 1
	}

	c.JSON(http.StatusOK, data)
}
