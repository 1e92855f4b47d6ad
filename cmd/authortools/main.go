// Command authortools serves the Internet-Draft author tools API: render,
// validate, idnits, iddiff, ABNF and svgcheck over external converters.
//
// Usage:
//
//	authortools [config.yaml]
//
// The config file may also be given with AT_CONFIG; AT_* variables
// override its values.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/authortools/api"
	"github.com/hazyhaar/authortools/audit"
	"github.com/hazyhaar/authortools/config"
	"github.com/hazyhaar/authortools/dbopen"
	"github.com/hazyhaar/authortools/diagnostics"
	"github.com/hazyhaar/authortools/drafts"
	"github.com/hazyhaar/authortools/horosafe"
	"github.com/hazyhaar/authortools/pipeline"
	"github.com/hazyhaar/authortools/shield"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolrun"
	"github.com/hazyhaar/authortools/toolversion"
)

func main() {
	path := os.Getenv("AT_CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Tool runner, audited when an audit database is configured.
	paths := make(map[toolrun.Tool]string, len(cfg.Tools))
	for name, bin := range cfg.Tools {
		paths[toolrun.Tool(name)] = bin
	}
	var runner toolrun.Runner = toolrun.NewExec(toolrun.Config{Paths: paths, Timeout: cfg.ToolTimeout, Logger: logger})

	var auditLog *audit.SQLiteLogger
	if cfg.AuditDB != "" {
		db, err := dbopen.Open(cfg.AuditDB, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("audit db", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		auditLog = audit.NewSQLiteLogger(db, audit.WithLogger(logger))
		if err := auditLog.Init(); err != nil {
			slog.Error("audit init", "error", err)
			os.Exit(1)
		}
		defer auditLog.Close()
		runner = toolrun.Observe(runner, auditLog.Observer())
	}

	// Staging and draft resolution.
	allow := horosafe.NewAllowList(cfg.AllowedDomains)
	fetchCfg := staging.FetchConfig{
		Timeout:           cfg.FetchTimeout,
		MaxBytes:          cfg.MaxUploadBytes(),
		RedirectValidator: allow.ValidateURL,
	}
	store, err := staging.New(staging.Config{
		Root:     cfg.UploadDir,
		MaxBytes: cfg.MaxUploadBytes(),
		Fetch:    fetchCfg,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("staging", "error", err)
		os.Exit(1)
	}
	// Registry answers point to the datatracker and its archive hosts, which
	// need not be in the allow-list.
	registry := drafts.NewHTTPRegistry(cfg.LatestDraftURL,
		staging.NewFetcher(staging.FetchConfig{Timeout: cfg.FetchTimeout}), logger)
	resolver := drafts.New(drafts.Config{
		AllowedDomains: cfg.AllowedDomains,
		Registry:       registry,
		Store:          store,
		Logger:         logger,
	})

	keys := make([]shield.Key, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, shield.Key{Label: k.Label, Hash: k.Hash})
	}
	if len(keys) == 0 {
		slog.Warn("no api_keys configured, API is open")
	}

	srvAPI := api.New(api.Config{
		Store:      store,
		Resolver:   resolver,
		Pipeline:   pipeline.New(pipeline.Config{Runner: runner, Store: store, Logger: logger}),
		Checker:    diagnostics.New(diagnostics.Config{Runner: runner, Store: store, Logger: logger}),
		Versions:   toolversion.New(toolversion.Config{Runner: runner, Version: cfg.Version, Logger: logger}),
		Keys:       shield.NewAPIKeys(keys...),
		Audit:      auditLog,
		MaxBody:    cfg.MaxUploadBytes() + 1<<20,
		KeepStaged: cfg.KeepStaged,
		MCP:        cfg.MCP,
		Version:    cfg.Version,
		Logger:     logger,
	})

	// Conversions can outlast the usual API write budget.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srvAPI.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("authortools starting", "addr", cfg.Listen, "upload_dir", cfg.UploadDir,
			"auth", len(keys) > 0, "audit", auditLog != nil, "mcp", cfg.MCP)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
