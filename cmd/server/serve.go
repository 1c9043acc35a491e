package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaun/publisher/internal/api"
	"github.com/shaun/publisher/internal/archive"
	"github.com/shaun/publisher/internal/auth"
	"github.com/shaun/publisher/internal/config"
	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/github"
	"github.com/shaun/publisher/internal/log"
	"github.com/shaun/publisher/internal/publish"
	"github.com/shaun/publisher/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		log.Init(cfg.Log)
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func baseFilesLoader(dir string) (func() (files.FileMap, error), error) {
	if dir == "" {
		return func() (files.FileMap, error) { return files.FileMap{}, nil }, nil
	}
	base, err := files.LoadDir(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load base files from %s: %w", dir, err)
	}
	log.Info("base files loaded", "dir", dir, "files", len(base))
	return func() (files.FileMap, error) { return base, nil }, nil
}

func newArchiver(cfg archive.S3Config) (archive.Archiver, error) {
	if !cfg.Enabled() {
		return archive.Nop{}, nil
	}
	s3, err := archive.NewS3(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("snapshot archive enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return s3, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	gh, err := github.NewConnector(cfg.GitHub)
	if err != nil {
		return err
	}
	if !gh.Configured() {
		log.Warn("GitHub credentials not configured; publish and repository listing will fail")
	}
	arch, err := newArchiver(cfg.Archive)
	if err != nil {
		return err
	}
	base, err := baseFilesLoader(cfg.BaseFilesDir)
	if err != nil {
		return err
	}

	svc := publish.NewService(publish.Options{
		Store:         st,
		Connector:     publish.GitHubConnector(gh),
		Admission:     publish.NewAdmission(cfg.MaxInFlight),
		Archive:       arch,
		DeployHookURL: cfg.DeployHookURL,
		BaseFiles:     base,
	})

	authMiddleware := auth.ExtractUser("anonymous")
	if cfg.BasicAuth() {
		authMiddleware = auth.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass)
	}
	router := api.NewRouter(api.NewHandler(st, svc, gh, cfg.AppSlug), authMiddleware)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("publisher listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
