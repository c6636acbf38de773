package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"huddle/client/internal/auth"
	"huddle/client/internal/config"
	"huddle/client/internal/feed"
	"huddle/client/internal/room"
	"huddle/client/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	redisFeed, err := feed.NewRedisFeed(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisFeed.Close()

	dataStore := store.NewPostgresStore(db, redisFeed)

	tokenAuth := auth.NewTokenAuth([]byte(cfg.AuthSecret))
	if cfg.SessionToken == "" {
		log.Fatalf("HUDDLE_SESSION_TOKEN is required")
	}
	principal, err := tokenAuth.SignIn(cfg.SessionToken)
	if err != nil {
		log.Fatalf("sign-in failed: %v", err)
	}
	log.Printf("signed in as %s (%s)", principal.ID, principal.Email)

	identity := auth.NewIdentity(ctx, tokenAuth)
	defer identity.Close()

	directory := room.NewDirectory(identity, dataStore)
	defer directory.Close()

	rooms, err := directory.ListRooms(ctx)
	if err != nil {
		log.Fatalf("list rooms failed: %v", err)
	}
	for _, entry := range rooms {
		log.Printf("room %s %q role=%s", entry.ID, entry.Name, entry.Role)
	}

	var session *room.Session
	if cfg.RoomID != "" {
		session, err = room.Open(ctx, dataStore, redisFeed, identity, cfg.RoomID)
		if err != nil {
			log.Fatalf("open room %s failed: %v", cfg.RoomID, err)
		}
		select {
		case <-session.Ready():
		case <-time.After(cfg.ShutdownTimeout):
			log.Printf("room %s: still opening, continuing anyway", cfg.RoomID)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SnapshotPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if session == nil {
				continue
			}
			snap := session.Snapshot()
			log.Printf("room %s phase=%s members=%d tasks=%d chats=%d syncLost=%v",
				session.RoomID(), snap.Phase, len(snap.Members), len(snap.Tasks), len(snap.Chat), snap.LiveSyncLost)
		case sig := <-stop:
			log.Printf("received %s, shutting down", sig)
			if session != nil {
				session.Close()
			}
			tokenAuth.SignOut()
			return
		}
	}
}
