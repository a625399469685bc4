package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"masterboxer.com/engagement-sync/chat"
	"masterboxer.com/engagement-sync/comments"
	"masterboxer.com/engagement-sync/config"
	"masterboxer.com/engagement-sync/database"
	"masterboxer.com/engagement-sync/engagement"
	"masterboxer.com/engagement-sync/identity"
	"masterboxer.com/engagement-sync/models"
	"masterboxer.com/engagement-sync/routes"
	"masterboxer.com/engagement-sync/seed"
	"masterboxer.com/engagement-sync/services"
	"masterboxer.com/engagement-sync/store"
)

type notifier interface {
	engagement.Notifier
	comments.Notifier
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the engagement API",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, conf)
		},
	}
}

func serve(ctx context.Context, conf config.Config) error {
	var app *firebase.App
	firebaseApp := func() (*firebase.App, error) {
		if app != nil {
			return app, nil
		}
		var err error
		app, err = services.InitFirebase(ctx, conf.FirebaseCredentialsPath, conf.FirebaseProjectID)
		return app, err
	}

	var remote store.Store
	switch conf.StoreBackend {
	case config.BackendFirestore:
		a, err := firebaseApp()
		if err != nil {
			return err
		}
		client, err := a.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		fs := store.NewFirestore(client)
		defer fs.Close()
		remote = fs
	case config.BackendPostgres:
		db, err := database.ConnectDB(conf.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		remote = store.NewPostgres(db)
	default:
		glog.Warningf("[Serve] using the in-memory store, nothing will be persisted")
		remote = store.NewMemory()
	}

	seeds := seed.Default()
	if conf.SeedFile != "" {
		loaded, err := seed.Load(conf.SeedFile)
		if err != nil {
			return fmt.Errorf("seed file: %w", err)
		}
		seeds = loaded
	}

	var author models.Author
	if conf.AuthToken != "" {
		var err error
		author, err = identity.FromToken(conf.AuthToken, conf.JWTSecret)
		if err != nil {
			return fmt.Errorf("AUTH_TOKEN: %w", err)
		}
	}

	// posts is assigned below; the notifier only looks owners up once
	// requests are being served
	var posts *engagement.Cache
	var push notifier = services.NopNotifier{}
	if conf.PushNotifications {
		a, err := firebaseApp()
		if err != nil {
			return err
		}
		fcm, err := services.NewFCMNotifier(ctx, a, func(postID string) (string, bool) {
			return posts.PostOwner(postID)
		})
		if err != nil {
			return err
		}
		push = fcm
	}

	posts = engagement.New(remote,
		engagement.WithNotifier(push),
		engagement.WithFailureHandler(func(postID string, err error) {
			glog.Warningf("[Serve] like on post %s reverted: %v", postID, err)
		}),
	)
	commentCache := comments.New(remote, seeds, posts, comments.WithNotifier(push))

	var chatCache *chat.Cache
	if conf.ChatURL != "" && author.UserID != "" {
		transport, err := chat.NewWebsocketTransport(ctx, conf.ChatURL, author.UserID, nil)
		if err != nil {
			return fmt.Errorf("chat transport: %w", err)
		}
		defer transport.Close()
		chatCache = chat.NewCache(transport, author)
		go chatCache.Run(ctx)
	} else {
		glog.Infof("[Serve] chat disabled (CHAT_URL or AUTH_TOKEN missing)")
	}

	server := &http.Server{
		Addr:              conf.HTTPAddr,
		Handler:           routes.NewRouter(posts, commentCache, chatCache, conf.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		glog.Infof("[Serve] listening on %s (store=%s)", conf.HTTPAddr, conf.StoreBackend)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
