// Package web serves the federation endpoints and the JSON API over gin.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/actors"
	"github.com/deemkeen/fedigraph/comments"
	"github.com/deemkeen/fedigraph/middleware"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/posts"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	maxInboxBodySize       = 1 << 20
	notificationStreamPath = "/api/v1/notifications/stream"
)

// Services are the collaborators the handlers call into. Realtime is
// optional; without it the notification stream answers 404.
type Services struct {
	Directory *actors.Directory
	Posts     *posts.Graph
	Comments  *comments.Graph
	Fanout    *notifications.Fanout
	Gateway   *activitypub.Gateway
	Auth      *middleware.Authenticator
	Realtime  *notifications.RedisPublisher
}

// Limits are the per-IP request rates.
type Limits struct {
	Global          rate.Limit
	GlobalBurst     int
	Federation      rate.Limit
	FederationBurst int
}

func DefaultLimits() Limits {
	return Limits{Global: 10, GlobalBurst: 20, Federation: 5, FederationBurst: 10}
}

// Server holds the handler dependencies.
type Server struct {
	Services
	conf *util.AppConfig
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(conf *util.AppConfig, svc Services, limits Limits) *gin.Engine {
	s := &Server{Services: svc, conf: conf}

	g := gin.New()
	g.Use(gin.Recovery())
	if conf.IsDevelopment() {
		g.Use(gin.Logger())
	}
	g.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{notificationStreamPath})))
	g.Use(RateLimitMiddleware(NewRateLimiter(limits.Global, limits.GlobalBurst)))

	g.GET("/u/:handle", s.handleProfile)
	g.GET("/users/:handle/feed", s.handleFeed)

	if conf.Conf.WithAp {
		fedLimiter := RateLimitMiddleware(NewRateLimiter(limits.Federation, limits.FederationBurst))

		g.GET("/.well-known/webfinger", s.handleWebfinger)
		g.GET("/users/:handle", s.handleActor)
		g.POST("/users/:handle/inbox", fedLimiter, MaxBytesMiddleware(maxInboxBodySize), s.handleInbox)
		g.GET("/users/:handle/outbox", s.handleOutbox)
		g.GET("/users/:handle/followers", s.handleFollowers)
		g.GET("/users/:handle/following", s.handleFollowing)
		g.GET("/posts/:id", s.handleNote)
	}

	api := g.Group("/api/v1")
	api.POST("/accounts", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)

	public := api.Group("", s.Auth.OptionalActor())
	public.GET("/accounts/search", s.handleSearchAccounts)
	public.GET("/accounts/:handle", s.handleGetAccount)
	public.GET("/accounts/:handle/posts", s.handleListAccountPosts)
	public.GET("/posts/:id", s.handleGetPost)
	public.GET("/posts/:id/comments", s.handleListComments)

	authed := api.Group("", s.Auth.RequireActor())
	authed.GET("/me", s.handleGetMe)
	authed.PATCH("/me", s.handleUpdateMe)
	authed.DELETE("/me", s.handleDeleteMe)

	authed.POST("/follows", s.handleFollow)
	authed.DELETE("/follows", s.handleUnfollow)

	authed.POST("/posts", s.handleCreatePost)
	authed.PATCH("/posts/:id", s.handleUpdatePost)
	authed.DELETE("/posts/:id", s.handleDeletePost)
	authed.POST("/posts/:id/like", s.handleLikePost)
	authed.DELETE("/posts/:id/like", s.handleUnlikePost)
	authed.POST("/posts/:id/share", s.handleSharePost)
	authed.DELETE("/posts/:id/share", s.handleUnsharePost)
	authed.POST("/posts/:id/comments", s.handleCreateComment)

	authed.DELETE("/comments/:id", s.handleDeleteComment)
	authed.POST("/comments/:id/like", s.handleLikeComment)
	authed.DELETE("/comments/:id/like", s.handleUnlikeComment)

	authed.GET("/notifications", s.handleListNotifications)
	authed.GET("/notifications/unread-count", s.handleUnreadCount)
	authed.POST("/notifications/read", s.handleMarkRead)
	authed.POST("/notifications/read-all", s.handleMarkAllRead)
	authed.GET("/notifications/stream", s.handleNotificationStream)

	return g
}

// ListenAndServe runs handler until ctx is cancelled, then drains
// in-flight requests.
func ListenAndServe(ctx context.Context, conf *util.AppConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr, "domain", conf.Conf.SslDomain, "federation", conf.Conf.WithAp)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
