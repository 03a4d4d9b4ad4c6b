package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/gofr-lab/gplot/internal/api"
	"github.com/gofr-lab/gplot/pkg/auth"
	storeconfig "github.com/gofr-lab/gplot/pkg/imagestore/config"
)

type Config struct {
	Host      string `env:"GPLOT_HOST" env-default:"0.0.0.0"`
	Port      uint16 `env:"GPLOT_PORT" env-default:"8080"`
	DataDir   string `env:"GPLOT_DATA_DIR" env-default:"./data"`
	Backend   string `env:"GPLOT_BACKEND" env-default:"split"`
	Metadata  string `env:"GPLOT_METADATA_STORE" env-default:"jsonfile"`
	Blobs     string `env:"GPLOT_BLOB_STORE" env-default:"fs"`
	DBUrl     string `env:"GPLOT_DATABASE_URL"`
	JWTSecret string `env:"GPLOT_JWT_SECRET"`
	S3        S3Config
}

type S3Config struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket          string `env:"AWS_S3_BUCKET"`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"true"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load environment variables from .env file
	if err := godotenv.Load(".env"); err != nil {
		// It's okay if .env doesn't exist, we'll use default values
		logger.Info("no .env file found, using environment and defaults")
	}

	var cfg Config
	cleanenv.ReadEnv(&cfg)

	backend, err := storeconfig.ParseBackendKind(cfg.Backend)
	if err != nil {
		logger.Error("invalid backend", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}

	storeCfg, err := storeconfig.Load(func(c *storeconfig.Config) error {
		c.DataDir = cfg.DataDir
		c.Backend = backend
		c.MetadataStore = cfg.Metadata
		c.BlobStore = cfg.Blobs
		c.DatabaseURL = cfg.DBUrl
		c.S3 = storeconfig.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			CreateBucket:    cfg.S3.CreateBucket,
		}
		c.Logger = logger
		return nil
	})
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	store, err := storeCfg.BuildService()
	if err != nil {
		logger.Error("failed to build storage service", "err", err)
		os.Exit(1)
	}

	authService, err := auth.New(auth.Config{
		Secret:         cfg.JWTSecret,
		TokenStorePath: fmt.Sprintf("%s/auth/tokens.json", cfg.DataDir),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to build auth service", "err", err)
		os.Exit(1)
	}

	router := api.Router(store, authService, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr, "backend", backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shut down", "err", err)
		os.Exit(1)
	}

	logger.Info("server exiting")
}
