package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/actors"
	"github.com/deemkeen/fedigraph/comments"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/middleware"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/posts"
	"github.com/deemkeen/fedigraph/util"
	"github.com/deemkeen/fedigraph/web"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type app struct {
	conf      *util.AppConfig
	database  *db.DB
	publisher *notifications.RedisPublisher
	fanout    *notifications.Fanout
	directory *actors.Directory
	posts     *posts.Graph
	comments  *comments.Graph
	gateway   *activitypub.Gateway
}

func setup() (*app, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, err
	}
	util.SetupLogging(conf)
	log.Debug("configuration loaded", "conf", util.PrettyPrint(conf.Redacted()))

	database, err := db.Open(util.ResolveFilePath(conf.Conf.DbPath))
	if err != nil {
		return nil, err
	}

	a := &app{conf: conf, database: database}

	var publisher notifications.Publisher
	if conf.Conf.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: conf.Conf.RedisAddr})
		a.publisher = notifications.NewRedisPublisher(rdb)
		publisher = a.publisher
		log.Info("realtime notifications enabled", "redis", conf.Conf.RedisAddr)
	}

	clock := util.RealClock()
	a.fanout = notifications.NewFanout(database, publisher, clock)
	a.directory = actors.NewDirectory(database, util.GeneratePemKeypair, actors.BcryptHasher(), a.fanout, actors.Options{
		Domain:             conf.Conf.SslDomain,
		MinPasswordEntropy: conf.Conf.MinPasswordEntropy,
		Clock:              clock,
	})
	a.posts = posts.NewGraph(database, a.directory, a.fanout, posts.Options{Domain: conf.Conf.SslDomain, Clock: clock})
	a.comments = comments.NewGraph(database, a.posts, a.directory, a.fanout, comments.Options{Clock: clock})
	a.gateway = activitypub.NewGateway(a.directory, a.posts, database, activitypub.Options{Domain: conf.Conf.SslDomain, Clock: clock})
	return a, nil
}

func (a *app) close() {
	if err := a.database.Close(); err != nil {
		log.Error("failed to close database", "err", err)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	auth, err := middleware.NewAuthenticator(a.conf.Conf.JwtSecret, a.conf.TokenTTL(), nil)
	if err != nil {
		return err
	}
	if a.conf.Conf.JwtSecret == "change-me" && !a.conf.IsDevelopment() {
		log.Warn("jwtSecret is the shipped default, set FEDIGRAPH_JWT_SECRET")
	}

	router := web.NewRouter(a.conf, web.Services{
		Directory: a.directory,
		Posts:     a.posts,
		Comments:  a.comments,
		Fanout:    a.fanout,
		Gateway:   a.gateway,
		Auth:      auth,
		Realtime:  a.publisher,
	}, web.DefaultLimits())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "version", util.GetNameAndVersion())
	return web.ListenAndServe(ctx, a.conf, router)
}

func createActorCommand() *cobra.Command {
	var req actors.CreateActorRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a local actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			actor, err := a.directory.CreateLocalActor(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", actor.FullHandle, actor.FederationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Handle, "handle", "", "handle of the new actor")
	cmd.Flags().StringVar(&req.Credential, "password", "", "password of the new actor")
	cmd.Flags().StringVar(&req.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("handle")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           util.Name,
		Short:         "A small federated social server",
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and federation server",
		RunE:  serve,
	})

	actorCmd := &cobra.Command{Use: "actor", Short: "Manage local actors"}
	actorCmd.AddCommand(createActorCommand())
	root.AddCommand(actorCmd)
	return root
}

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
