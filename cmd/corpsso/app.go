package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/account"
	"github.com/dpleshakov/corpsso/internal/config"
	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/db"
	"github.com/dpleshakov/corpsso/internal/esi"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
	"github.com/dpleshakov/corpsso/internal/store"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	sso      *sso.Client
	esi      esi.Client
	sessions *session.Manager
	registry *corp.Registry
	accounts *account.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	ssoClient := sso.NewClient(sso.Config{
		ClientID:     cfg.ESI.ClientID,
		ClientSecret: cfg.ESI.ClientSecret,
		RedirectURL:  cfg.ESI.CallbackURL,
		BaseURL:      cfg.ESI.SSOBaseURL,
	}, hc, logger)

	repo := store.NewStore(database)
	sessions := session.NewManager(ssoClient, cfg.SessionTTL.Duration, logger)
	registry := corp.NewRegistry(repo, logger)
	accounts := account.NewService(repo, registry, sessions, logger)
	sessions.SetTokenStore(accounts)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		sso:      ssoClient,
		esi:      esi.NewClient(hc, cfg.ESI.ESIBaseURL, logger),
		sessions: sessions,
		registry: registry,
		accounts: accounts,
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close() //nolint:errcheck // Close on shutdown, error is inconsequential
	_ = a.logger.Sync()
}
