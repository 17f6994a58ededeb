package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"safechat/internal/analysis"
	"safechat/internal/config"
	"safechat/internal/database"
	"safechat/internal/handler"
	"safechat/internal/logging"
	"safechat/internal/moderation"
	"safechat/internal/pipeline"
	"safechat/internal/presence"
	"safechat/internal/realtime"
	"safechat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 環境変数を読み込み
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logging.Warn().Err(envErr).Msg("⚠️  .env file not found, using default values")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("❌ Failed to initialize store")
	}
	defer st.Close()

	analyzer := analysis.New(cfg)
	hub := realtime.NewHub(presence.NewRegistry())
	executor := moderation.NewExecutor(st, hub, cfg.ModerationTimeout)
	mod := moderation.NewService(st, hub, executor)
	p := pipeline.NewService(st, analyzer, mod, hub, cfg.AnalysisTimeout)

	// ハンドラー初期化
	h := handler.New(p, hub, analyzer, cfg)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	httpLog := logging.With().Str("component", "http").Logger()
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(httpLog, "", 0),
	}

	printBanner(cfg, analyzer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return executor.RunSweeper(gctx, cfg.TimeoutSweepInterval)
	})
	g.Go(func() error {
		logging.Info().Str("addr", srv.Addr).Msg("🚀 Server started successfully")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Error().Err(err).Msg("❌ Server stopped with error")
		st.Close()
		os.Exit(1)
	}
	logging.Info().Msg("👋 Server stopped")
}

// openStore DB_NAME があれば MariaDB、なければインメモリ
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if !cfg.UseDatabase() {
		logging.Warn().Msg("DB_NAME not set, using in-memory store")
		return store.NewMemory(), nil
	}

	db, err := database.Init(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return store.NewMySQL(db), nil
}

func printBanner(cfg config.Config, analyzer analysis.Analyzer) {
	fmt.Println("========================================")
	fmt.Println("  SafeChat Moderation API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	if cfg.UseDatabase() {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	fmt.Printf("  Analyzer: %s\n", analyzer.Name())
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")
}
