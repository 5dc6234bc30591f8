// Command mailvault runs the token vault service: the OAuth consent flow,
// encrypted credential storage, the token lifecycle engine and the mailbox
// proxy endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	rdb "github.com/redis/go-redis/v9"

	"github.com/joho/godotenv"

	"github.com/inboxly/mailvault/internal/config"
	"github.com/inboxly/mailvault/internal/connect"
	httpserver "github.com/inboxly/mailvault/internal/http"
	"github.com/inboxly/mailvault/internal/http/handlers"
	mw "github.com/inboxly/mailvault/internal/http/middlewares"
	"github.com/inboxly/mailvault/internal/http/router"
	"github.com/inboxly/mailvault/internal/mail"
	"github.com/inboxly/mailvault/internal/metrics"
	"github.com/inboxly/mailvault/internal/notify"
	"github.com/inboxly/mailvault/internal/observability/logger"
	"github.com/inboxly/mailvault/internal/provider"
	"github.com/inboxly/mailvault/internal/provider/google"
	"github.com/inboxly/mailvault/internal/provider/microsoft"
	"github.com/inboxly/mailvault/internal/rate"
	"github.com/inboxly/mailvault/internal/security/oauthstate"
	"github.com/inboxly/mailvault/internal/security/secretbox"
	"github.com/inboxly/mailvault/internal/store"
	"github.com/inboxly/mailvault/internal/store/memory"
	"github.com/inboxly/mailvault/internal/store/pg"
)

const version = "1.0.0"

func main() {
	var (
		flagConfigPath = flag.String("config", "", "path to config.yaml (env-only when empty)")
		flagEnvFile    = flag.String("env-file", ".env", "path to .env (loaded if present)")
	)
	flag.Parse()

	_ = godotenv.Load(*flagEnvFile)

	cfg, err := config.Load(*flagConfigPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
	defer func() { _ = logger.Sync() }()
	lg := logger.L()

	if err := metrics.RegisterLifecycle(nil); err != nil {
		lg.Fatal("register lifecycle metrics", logger.Err(err))
	}
	if err := metrics.RegisterHTTP(nil); err != nil {
		lg.Fatal("register http metrics", logger.Err(err))
	}

	// ─── crypto ───

	box, err := secretbox.New(cfg.Security.TokenMasterSecret)
	if err != nil {
		lg.Fatal("token cipher init", logger.Err(err))
	}

	stateOpts := []oauthstate.Option{oauthstate.WithMaxAge(cfg.Security.StateMaxAge)}
	if cfg.Security.StateSingleUse {
		stateOpts = append(stateOpts, oauthstate.WithSingleUse(cfg.Security.StateMaxAge))
	}
	signer, err := oauthstate.New(cfg.Security.StateSecret, stateOpts...)
	if err != nil {
		lg.Fatal("state signer init", logger.Err(err))
	}

	// ─── storage ───

	ctx := context.Background()
	var credStore store.CredentialStore
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			lg.Fatal("postgres connect", logger.Err(err))
		}
		defer pgStore.Close()
		credStore = pgStore
	default:
		lg.Warn("using in-memory credential store, connections will not survive restarts")
		credStore = memory.New()
	}

	// ─── providers ───

	baseURL := strings.TrimRight(cfg.Server.BaseURL, "/")
	var adapters []provider.Adapter
	if cfg.Providers.Google.Enabled {
		adapters = append(adapters, google.New(google.Config{
			ClientID:     cfg.Providers.Google.ClientID,
			ClientSecret: cfg.Providers.Google.ClientSecret,
			RedirectURL:  baseURL + "/v1/auth/google/callback",
			Scopes:       cfg.Providers.Google.Scopes,
		}))
	}
	if cfg.Providers.Microsoft.Enabled {
		adapters = append(adapters, microsoft.New(microsoft.Config{
			ClientID:     cfg.Providers.Microsoft.ClientID,
			ClientSecret: cfg.Providers.Microsoft.ClientSecret,
			RedirectURL:  baseURL + "/v1/auth/microsoft/callback",
			Tenant:       cfg.Providers.Microsoft.Tenant,
			Scopes:       cfg.Providers.Microsoft.Scopes,
		}))
	}

	// ─── engine ───

	engineOpts := []connect.Option{connect.WithSafetyBuffer(cfg.Security.SafetyBuffer)}
	if cfg.Notify.Enabled {
		mailer, err := notify.NewMailer(notify.NewSMTPSender(notify.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			FromEmail:          cfg.SMTP.FromEmail,
			TLSMode:            cfg.SMTP.TLSMode,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}), notify.Config{
			BaseURL: baseURL,
			Subject: cfg.Notify.Subject,
		})
		if err != nil {
			lg.Fatal("reconnect mailer init", logger.Err(err))
		}
		engineOpts = append(engineOpts, connect.WithNotifier(mailer))
	}

	engine := connect.New(credStore, box, signer, adapters, engineOpts...)

	// ─── mailbox listers ───

	listers := mail.NewRegistry()
	listers.Register(provider.Google, mail.NewGmailLister(mail.GmailConfig{}))
	listers.Register(provider.Microsoft, mail.NewGraphLister(mail.GraphConfig{}))

	// ─── rate limiting ───

	var limiter mw.RateLimiter
	if cfg.Rate.Enabled {
		if cfg.Redis.Addr != "" {
			client := rdb.NewClient(&rdb.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				lg.Fatal("redis ping", logger.Err(err))
			}
			limiter = rate.NewRedisLimiter(client, cfg.Redis.Prefix+":rl:", cfg.Rate.MaxRequests, cfg.Rate.Window)
		} else {
			lg.Warn("rate limiting on the in-process limiter, per instance only")
			limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, cfg.Rate.Window)
		}
	}

	// ─── http ───

	health := handlers.NewHealthHandler(version)
	health.AddComponent("store", credStore)

	handler := router.New(router.Deps{
		Auth:         handlers.NewAuthHandler(engine),
		Integrations: handlers.NewIntegrationsHandler(engine, listers),
		Health:       health,
		RateLimiter:  limiter,
		AdminAPIKey:  cfg.Security.AdminAPIKey,
	})

	lg.Info("mailvault up",
		logger.String("addr", cfg.Server.Addr),
		logger.String("env", cfg.App.Env),
		logger.String("storage", cfg.Storage.Driver),
		logger.Int("providers", len(adapters)),
	)

	if err := httpserver.Start(cfg.Server.Addr, handler); err != nil {
		lg.Fatal("http server", logger.Err(err))
	}
}
