// Command admin manages group tokens and runs maintenance against the
// image store from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/gofr-lab/gplot/pkg/auth"
	storeconfig "github.com/gofr-lab/gplot/pkg/imagestore/config"
)

type Config struct {
	DataDir   string `env:"GPLOT_DATA_DIR" env-default:"./data"`
	Backend   string `env:"GPLOT_BACKEND" env-default:"split"`
	Metadata  string `env:"GPLOT_METADATA_STORE" env-default:"jsonfile"`
	Blobs     string `env:"GPLOT_BLOB_STORE" env-default:"fs"`
	DBUrl     string `env:"GPLOT_DATABASE_URL"`
	JWTSecret string `env:"GPLOT_JWT_SECRET"`
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: admin <command> [flags]

Commands:
  create-token -group <name> [-ttl <duration>]
  list-tokens
  revoke-token -token <token>
  purge [-age-days <n>] [-group <name>]
`)
	os.Exit(2)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(".env"); err != nil {
		logger.Debug("no .env file found")
	}

	var cfg Config
	cleanenv.ReadEnv(&cfg)

	if len(os.Args) < 2 {
		usage()
	}

	authService, err := auth.New(auth.Config{
		Secret:         cfg.JWTSecret,
		TokenStorePath: filepath.Join(cfg.DataDir, "auth", "tokens.json"),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to build auth service", "err", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create-token":
		createToken(authService, os.Args[2:])
	case "list-tokens":
		listTokens(authService)
	case "revoke-token":
		revokeToken(authService, os.Args[2:])
	case "purge":
		purge(cfg, logger, os.Args[2:])
	default:
		usage()
	}
}

func createToken(authService *auth.Service, args []string) {
	fs := flag.NewFlagSet("create-token", flag.ExitOnError)
	group := fs.String("group", "", "group the token grants access to")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	fs.Parse(args)

	if *group == "" {
		fmt.Fprintln(os.Stderr, "create-token: -group is required")
		os.Exit(2)
	}

	token, err := authService.CreateToken(*group, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create-token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func listTokens(authService *auth.Service) {
	tokens := authService.ListTokens()
	if len(tokens) == 0 {
		fmt.Println("no tokens issued")
		return
	}
	for group, infos := range tokens {
		for _, info := range infos {
			fmt.Printf("%s\tissued %s\texpires %s\n",
				group,
				info.IssuedAt.Format(time.RFC3339),
				info.ExpiresAt.Format(time.RFC3339))
		}
	}
}

func revokeToken(authService *auth.Service, args []string) {
	fs := flag.NewFlagSet("revoke-token", flag.ExitOnError)
	token := fs.String("token", "", "token string to revoke")
	fs.Parse(args)

	if *token == "" {
		fmt.Fprintln(os.Stderr, "revoke-token: -token is required")
		os.Exit(2)
	}

	revoked, err := authService.RevokeToken(*token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "revoke-token: %v\n", err)
		os.Exit(1)
	}
	if !revoked {
		fmt.Println("token not found")
		return
	}
	fmt.Println("token revoked")
}

func purge(cfg Config, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	ageDays := fs.Int("age-days", 0, "delete images older than this many days (0 deletes all)")
	group := fs.String("group", "", "restrict the purge to one group")
	fs.Parse(args)

	backend, err := storeconfig.ParseBackendKind(cfg.Backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}

	storeCfg, err := storeconfig.Load(func(c *storeconfig.Config) error {
		c.DataDir = cfg.DataDir
		c.Backend = backend
		c.MetadataStore = cfg.Metadata
		c.BlobStore = cfg.Blobs
		c.DatabaseURL = cfg.DBUrl
		c.Logger = logger
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}

	store, err := storeCfg.BuildService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}

	var scope *string
	if *group != "" {
		scope = group
	}

	purged, err := store.Purge(context.Background(), *ageDays, scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("purged %d image(s)\n", purged)
}
