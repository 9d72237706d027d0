package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Wyydra/loopync/internal/adapter/driven/backend/rest"
	"github.com/Wyydra/loopync/internal/adapter/driven/gateway/ws"
	mediamem "github.com/Wyydra/loopync/internal/adapter/driven/media/memory"
	"github.com/Wyydra/loopync/internal/adapter/driven/media/pion"
	"github.com/Wyydra/loopync/internal/adapter/driven/notify"
	"github.com/Wyydra/loopync/internal/adapter/driven/persistence/file"
	repo "github.com/Wyydra/loopync/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/loopync/internal/adapter/driven/persistence/sqlite"
	"github.com/Wyydra/loopync/internal/adapter/driven/presence"
	handler "github.com/Wyydra/loopync/internal/adapter/driving/http"
	"github.com/Wyydra/loopync/internal/config"
	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/Wyydra/loopync/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fanout := service.NewFanOut(0)
	go fanout.Run()

	hub := handler.NewHub()
	go hub.Run()

	notifier := notify.New(cfg.Notifications)
	notifier.AddSink(func(n port.Notification) {
		hub.Broadcast(handler.Frame{Type: handler.FrameNotification, Payload: n})
	})

	presenceStore, closePresence := openPresence(ctx, cfg.Storage.RedisURL)

	api := rest.NewClient(cfg.Backend.URL, cfg.Backend.HTTPTimeout)

	threads, closeThreads := openThreads(cfg.Storage.CacheDB)
	defer closeThreads()

	dialer := ws.NewDialer(ws.ReconnectPolicy{
		MaxAttempts: cfg.Reconnect.Attempts,
		Delay:       cfg.Reconnect.Delay,
		Jitter:      cfg.Reconnect.Jitter,
	})
	socket := service.NewSocketService(cfg.Backend.URL, dialer, notifier, presenceStore, fanout)

	calls := service.NewCallManager(service.CallConfig{
		MaxPending:     cfg.Calls.MaxPending,
		SignalReject:   cfg.Calls.SignalReject,
		ReplacePending: cfg.Calls.ReplacePending,
	}, fanout, socket, openMedia(cfg.Media), api, nil)
	go calls.Run(ctx)

	chat := service.NewChatService(threads, api)
	go chat.Run(ctx, fanout)

	friends := service.NewFriendService(api, socket)

	sessionStore := file.NewSessionStore(cfg.Storage.SessionFile)
	session := service.NewSessionService(sessionStore, api, socket, calls, chat)
	session.OnChange(func(s *domain.Session) {
		if s == nil {
			api.SetToken("")
			return
		}
		api.SetToken(s.Token)
	})

	search := service.NewSearcher(api, cfg.SearchDebounce, session.UserID, func(r domain.SearchResult) {
		hub.Broadcast(handler.Frame{Type: handler.FrameSearch, Payload: r})
	})

	h := handler.NewHandler(session, socket, calls, chat, friends, search, presenceStore, hub)
	go h.Forward(ctx, fanout)

	go func() {
		err := sessionStore.Watch(ctx, func(s *domain.Session) { session.Apply(ctx, s) })
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("path", sessionStore.Path()).Msg("Session watcher stopped")
		}
	}()

	if err := session.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to restore session")
	}

	srv := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Bridge.Addr).Msg("Starting bridge")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start bridge")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Bridge forced to shutdown")
	}
	if err := calls.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Call teardown reported errors")
	}
	if err := socket.Stop(); err != nil {
		log.Warn().Err(err).Msg("Realtime close reported an error")
	}

	closePresence(session.UserID())
	hub.Stop()
	fanout.Stop()
	log.Info().Msg("Exited")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	if cfg.Format == "json" {
		out = os.Stdout
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

// openPresence prefers Redis and falls back to process memory when no URL is
// set or the server cannot be reached. The returned func drops userID's entry.
func openPresence(ctx context.Context, url string) (port.PresenceStore, func(domain.UserID)) {
	if url == "" {
		return presence.NewMemoryStore(), func(domain.UserID) {}
	}
	rdb, err := presence.Dial(ctx, url)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, keeping presence in memory")
		return presence.NewMemoryStore(), func(domain.UserID) {}
	}
	store := presence.NewRedisStore(rdb, "")
	return store, func(userID domain.UserID) {
		if userID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := store.Remove(ctx, userID); err != nil {
				log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to clear presence")
			}
		}
		rdb.Close()
	}
}

func openThreads(path string) (port.ThreadRepository, func()) {
	if path == "" {
		return repo.NewThreadRepository(), func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Warn().Err(err).Msg("Cannot create cache directory, caching threads in memory")
		return repo.NewThreadRepository(), func() {}
	}
	db, err := sqlite.NewThreadRepository(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot open thread cache, caching threads in memory")
		return repo.NewThreadRepository(), func() {}
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close thread cache")
		}
	}
}

// openMedia uses the WebRTC engine when a media server is configured and the
// loopback engine otherwise.
func openMedia(cfg config.MediaConfig) port.MediaEngine {
	if cfg.URL == "" {
		log.Warn().Msg("Media server URL is not set, calls use the loopback engine")
		return mediamem.NewEngine()
	}
	engine, err := pion.NewEngine(pion.Config{BaseURL: cfg.URL, STUNURLs: cfg.STUNURLs})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create WebRTC engine, calls use the loopback engine")
		return mediamem.NewEngine()
	}
	return engine
}
