package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/naveen-disprz/formBuilderBackend/db"
	"github.com/naveen-disprz/formBuilderBackend/internal/app"
	"github.com/naveen-disprz/formBuilderBackend/internal/authpw"
	"github.com/naveen-disprz/formBuilderBackend/internal/blob"
	"github.com/naveen-disprz/formBuilderBackend/internal/config"
	"github.com/naveen-disprz/formBuilderBackend/internal/email"
	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/gitrepo"
	"github.com/naveen-disprz/formBuilderBackend/internal/lock"
	"github.com/naveen-disprz/formBuilderBackend/internal/search"
	"github.com/naveen-disprz/formBuilderBackend/internal/session"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	sqlDB, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer sqlDB.Close()

	if err := store.ApplyMigrations(ctx, sqlDB, migrationFiles(cfg.MigrationsDir)); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoTimeout)
	mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	cancel()
	if err != nil {
		log.Fatalf("mongo connection failed: %v", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	forms := formstore.NewRepository(mongoClient.Database(cfg.MongoDatabase), cfg.FormCollection)
	indexCtx, cancel := context.WithTimeout(ctx, cfg.MongoTimeout)
	if err := forms.EnsureIndexes(indexCtx); err != nil {
		log.Printf("WARNING: form indexes not ensured: %v", err)
	}
	cancel()

	responses := store.NewPostgresStore(sqlDB)
	responses.SetMaxPageSize(cfg.MaxPageSize)

	deps := app.Dependencies{
		Forms:     forms,
		Responses: responses,
		Users:     responses,
		Accounts:  authpw.NewService(responses),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, logout revocation and submission locks disabled: %v", err)
		} else {
			defer redisClient.Close()
			deps.Revocations = session.NewRedisStore(redisClient)
			deps.Locks = lock.NewRedisLocker(redisClient)
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	var searchService *search.Service
	if meiliClient != nil {
		searchService = search.NewService(meiliClient)
		deps.Search = searchService
	}

	if strings.TrimSpace(cfg.RevisionsDir) != "" {
		if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
			log.Fatalf("failed to create revisions dir: %v", err)
		}
		deps.Revisions = gitrepo.New(cfg.RevisionsDir)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.NewMinioStore(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := blobs.EnsureBucket(bucketCtx); err != nil {
			log.Printf("WARNING: object storage unavailable, files stored inline: %v", err)
		} else {
			deps.Blobs = blobs
		}
		cancel()
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Notifier = mailer
	}

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	if searchService != nil {
		go func() {
			reindexCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			all, _, err := forms.List(reindexCtx, formstore.ListFilter{}, 0, 0)
			if err != nil {
				log.Printf("search: load forms for reindex: %v", err)
				return
			}
			searchService.ReindexAll(all)
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Forms API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// migrationFiles prefers an on-disk migrations directory and falls back to
// the copy embedded in the binary.
func migrationFiles(dir string) fs.FS {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir)
	}
	return db.Migrations()
}
