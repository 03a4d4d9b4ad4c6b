package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gofr-lab/gplot/internal/mcp"
	"github.com/gofr-lab/gplot/pkg/auth"
	storeconfig "github.com/gofr-lab/gplot/pkg/imagestore/config"
)

type Config struct {
	Port      uint16 `env:"GPLOT_PORT" env-default:"8000"`
	BaseURL   string `env:"GPLOT_BASE_URL" env-default:"http://localhost:8000"`
	DataDir   string `env:"GPLOT_DATA_DIR" env-default:"./data"`
	Backend   string `env:"GPLOT_BACKEND" env-default:"split"`
	Metadata  string `env:"GPLOT_METADATA_STORE" env-default:"jsonfile"`
	Blobs     string `env:"GPLOT_BLOB_STORE" env-default:"fs"`
	DBUrl     string `env:"GPLOT_DATABASE_URL"`
	JWTSecret string `env:"GPLOT_JWT_SECRET"`
	Token     string `env:"GPLOT_MCP_TOKEN"`
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
	// Server mode flags
	var mode = flag.String("mode", "stdio", "Server mode: 'stdio', 'sse', or 'http'")
	flag.Parse()

	// Stdio mode uses stdout for the protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(".env"); err != nil {
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

	tokens, err := auth.New(auth.Config{
		Secret:         cfg.JWTSecret,
		TokenStorePath: filepath.Join(cfg.DataDir, "auth", "tokens.json"),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to initialize auth service", "err", err)
		os.Exit(1)
	}

	// A process-wide token pins every call without its own token argument
	// to one group, which is how stdio deployments scope a single client.
	var defaultGroup *string
	if cfg.Token != "" {
		info, err := tokens.VerifyToken(cfg.Token)
		if err != nil {
			logger.Error("invalid GPLOT_MCP_TOKEN", "err", err)
			os.Exit(1)
		}
		defaultGroup = &info.Group
		logger.Info("serving under group", "group", info.Group)
	}

	s := server.NewMCPServer(
		"gplot chart server",
		"1.0.0",
		server.WithResourceCapabilities(true, true),
	)

	handler := mcp.NewChartHandler(mcp.HandlerConfig{
		Store:        store,
		Tokens:       tokens,
		DefaultGroup: defaultGroup,
		Logger:       logger,
	})
	handler.RegisterTools(s)

	switch *mode {
	case "sse":
		sseServer := server.NewSSEServer(s, server.WithBaseURL(cfg.BaseURL))
		logger.Info("starting SSE server", "base_url", cfg.BaseURL)
		if err := sseServer.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error("failed to start SSE server", "err", err)
			os.Exit(1)
		}
	case "http":
		httpServer := server.NewStreamableHTTPServer(s)
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := httpServer.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	default:
		logger.Info("starting in stdio mode")
		if err := server.ServeStdio(s); err != nil {
			logger.Error("failed to start stdio server", "err", err)
			os.Exit(1)
		}
	}
}
