package web

import (
	"fmt"
	"net/http"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedDateFormat = "2006-01-02 15:04 MST"

// BuildFeed renders an actor's public posts as RSS 2.0.
func BuildFeed(domainName string, author *domain.Actor, items []domain.Post) (string, error) {
	link := fmt.Sprintf("https://%s/u/%s", domainName, author.Handle)
	email := author.FullHandle

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s (@%s)", author.Name(), author.FullHandle),
		Link:        &feeds.Link{Href: link},
		Description: util.StripHTML(author.Summary),
		Author:      &feeds.Author{Name: author.Name(), Email: email},
		Created:     author.CreatedAt,
	}

	for _, post := range items {
		title := post.Summary
		if title == "" {
			title = post.PublishedAt.Format(feedDateFormat)
		}
		html := util.RenderContent(post.Content)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          post.FederationID,
			Title:       title,
			Link:        &feeds.Link{Href: post.FederationID},
			Description: html,
			Content:     html,
			Author:      &feeds.Author{Name: author.Name(), Email: email},
			Created:     post.PublishedAt,
			Updated:     post.UpdatedAt,
		})
	}
	if len(feed.Items) > 0 {
		feed.Updated = feed.Items[0].Created
	}

	return feed.ToRss()
}

func (s *Server) handleFeed(c *gin.Context) {
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

	list, err := s.Posts.ListPublicByAuthor(ctx, actor.Id, domain.Page{Limit: postsPerPage})
	if err != nil {
		s.respondError(c, err)
		return
	}

	rss, err := BuildFeed(s.conf.Conf.SslDomain, actor, list.Items)
	if err != nil {
		s.respondError(c, domain.NewServerError("failed to render feed", err))
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
