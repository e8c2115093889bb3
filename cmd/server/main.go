package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/presence"
	"github.com/Tyrowin/chathub/internal/server"
	"github.com/Tyrowin/chathub/internal/store"
)

func main() {
	cfg := server.NewConfigFromEnv().Sanitize()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting chat hub",
		"port", cfg.Port,
		"origins", cfg.AllowedOrigins,
		"defaultRoom", cfg.DefaultRoom,
		"typingTimeout", cfg.TypingTimeout,
	)

	hubOpts := []hub.Option{hub.WithLogger(logger)}
	serverOpts := []server.Option{server.WithLogger(logger)}

	var db *store.Store
	if cfg.DatabasePath != "" {
		var err error
		db, err = store.Open(cfg.DatabasePath, cfg.LogLevel == "debug")
		if err != nil {
			logger.Error("failed to open store", "path", cfg.DatabasePath, "err", err)
			os.Exit(1)
		}
		logger.Info("store opened", "path", cfg.DatabasePath)
		hubOpts = append(hubOpts, hub.WithStore(db))
		serverOpts = append(serverOpts, server.WithHistory(db))
	}

	h := hub.New(cfg.HubConfig(), hubOpts...)
	h.PresenceTracker().Observe(func(c presence.Change) {
		logger.Debug("presence changed", "room", c.RoomID, "members", len(c.Members))
	})
	if db != nil {
		stored, err := db.ListRooms(context.Background())
		if err != nil {
			logger.Warn("failed to load stored rooms", "err", err)
		} else {
			logger.Info("rooms restored", "count", h.RestoreRooms(stored))
		}
	}

	srv := server.New(cfg, h, serverOpts...)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer, logger)
			},
			"hub": func(ctx context.Context) error {
				err := srv.Shutdown(ctx)
				if db != nil {
					if cerr := db.Close(); cerr != nil {
						logger.Error("failed to close store", "err", cerr)
						err = errors.Join(err, cerr)
					}
				}
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Info("chat hub exited", "code", exitCode)
	os.Exit(exitCode)
}

func newLogger(cfg server.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
