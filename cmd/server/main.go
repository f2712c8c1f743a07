package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"cloudquote/backend/internal/cartstore"
	"cloudquote/backend/internal/config"
	"cloudquote/backend/internal/httpapi"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/service"
	"cloudquote/backend/internal/store"
	"cloudquote/backend/internal/store/memory"
	pgstore "cloudquote/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	shareSecret := cfg.ShareSecret
	switch {
	case shareSecret == "":
		shareSecret = randomSecret()
		log.Println("WARN: SHARE_SECRET not set, using a random secret; share links will not survive restarts")
	case len(shareSecret) < 32:
		log.Fatalf("SHARE_SECRET must be at least 32 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	snapshots := cartstore.SnapshotStore(cartstore.NewMemorySnapshotStore())
	if cfg.RedisAddr != "" {
		redisStore := cartstore.NewRedisSnapshotStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			time.Duration(cfg.CartSnapshotTTLHours)*time.Hour)
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), keeping carts in memory", err)
		} else {
			snapshots = redisStore
			closers = append(closers, redisStore.Close)
			log.Println("cart snapshots: redis")
		}
	} else {
		log.Println("cart snapshots: in-memory")
	}

	shares := quote.NewShareTokenManager(shareSecret)
	svc := service.New(repo, snapshots, shares, service.Config{
		TaxRate:      &cfg.TaxRate,
		ValidityDays: cfg.QuoteValidityDays,
	})
	api := httpapi.New(svc, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("quoting backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate share secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
