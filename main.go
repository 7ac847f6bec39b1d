package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jammy/internal/api"
	"jammy/internal/auth"
	"jammy/internal/chat"
	"jammy/internal/commands"
	"jammy/internal/config"
	"jammy/internal/filestore"
	"jammy/internal/http"
	"jammy/internal/models"
	"jammy/internal/presence"
	"jammy/internal/rooms"
	"jammy/internal/storage"
	"jammy/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("jammy", flag.ContinueOnError)
	addUser := fs.String("add-user", "", "Username to create (creates user with random password and prints details)")
	admin := fs.Bool("admin", false, "Grant the admin role to the user created with -add-user")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, *admin, cfg)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	if err := seedRooms(bbStorage, cfg.DefaultRooms); err != nil {
		return err
	}

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      cfg.AuthSecret,
		TokenExpiry: cfg.TokenExpiry,
		AdminUsers:  cfg.AdminUsers,
	}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	pipeline := chat.NewPipeline(ctx, chat.Config{MaxContentLength: cfg.MaxMessageLength}, bbStorage)
	hub := ws.NewHub(ws.Config{
		Mode:    cfg.Mode,
		Workers: cfg.PersistWorkers,
	}, presence.NewRegistry(), rooms.NewTable(), pipeline)

	chatServer := ws.NewServer(hub, authService, ws.ServerConfig{
		RequireAuth:  cfg.RequireAuth,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		AllowOrigin:  cfg.AllowsOrigin,
	})
	apiHandlers := api.New(authService, bbStorage, files, hub, api.Config{
		BaseURL:       cfg.BaseURL,
		MaxUploadSize: cfg.MaxUploadSize,
		AllowOrigin:   cfg.AllowsOrigin,
	})

	adminServer := http.NewAdminServer(api.NewAdminHandler(authService, hub), cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, chatServer, cfg.APIAddr)

	slog.Info("chat configured", "mode", cfg.Mode, "max_message_length", cfg.MaxMessageLength, "require_auth", cfg.RequireAuth)

	g, gCtx := errgroup.WithContext(ctx)

	// The hub closes every live session when gCtx is cancelled.
	g.Go(func() error {
		return hub.Run(gCtx)
	})

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func seedRooms(store *storage.BboltStorage, names []string) error {
	for _, name := range names {
		err := store.CreateRoom(models.Room{Name: name, CreatedAt: time.Now().UTC()})
		if err != nil && !errors.Is(err, storage.ErrRoomExists) {
			return fmt.Errorf("failed to create room %q: %w", name, err)
		}
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
