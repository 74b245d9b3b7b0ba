package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mohammad-safakhou/switchboard/config"
	"github.com/mohammad-safakhou/switchboard/internal/classify"
	"github.com/mohammad-safakhou/switchboard/internal/dispatch"
	"github.com/mohammad-safakhou/switchboard/internal/engine"
	"github.com/mohammad-safakhou/switchboard/internal/llm"
	"github.com/mohammad-safakhou/switchboard/internal/quota"
	"github.com/mohammad-safakhou/switchboard/internal/registry"
	"github.com/mohammad-safakhou/switchboard/internal/runtime"
	"github.com/mohammad-safakhou/switchboard/internal/signing"
	"github.com/mohammad-safakhou/switchboard/internal/store"
	"github.com/mohammad-safakhou/switchboard/internal/synthesize"
	"github.com/mohammad-safakhou/switchboard/internal/telemetry"
)

func Run(cfgPath, addr string) error {
	cfg := appconfig.LoadConfig(cfgPath)
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	// Initialize shared dependencies (top-level DI)
	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := ignoreNoChange(Migrate("file://migrations", dsn, "up", 0)); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" && cfg.Databases.Redis.Port != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Databases.Redis.Host, cfg.Databases.Redis.Port),
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Databases.Redis.Host, cfg.Databases.Redis.Port, err)
		}
	}

	limits := quota.Limits{User: cfg.Quota.UserDailyLimit, Guest: cfg.Quota.GuestDailyLimit}
	var ledger quota.Ledger
	switch cfg.Quota.Backend {
	case "redis":
		if rdb == nil {
			return fmt.Errorf("quota.backend=redis but redis not configured (databases.redis.host/port)")
		}
		ledger = quota.NewRedisLedger(rdb, limits)
	case "postgres":
		ledger = quota.NewStoreLedger(st, limits)
	default:
		ledger = quota.NewMemoryLedger(limits)
	}

	provider, err := llm.NewOpenAI(cfg.Providers.OpenAI)
	if err != nil {
		return err
	}
	signer := signing.NewHMACSigner([]byte(cfg.Signing.Secret), cfg.Signing.IssuerID)
	dispatcher := dispatch.New(signer, cfg.Dispatch.Timeout, cfg.Dispatch.MaxConcurrent, nil, metrics)
	eng := engine.New(ledger, classify.New(provider), &registry.StoreRegistry{St: st}, dispatcher, synthesize.New(provider), nil, metrics)

	directory, err := registry.NewDirectory()
	if err != nil {
		return err
	}
	agents, err := st.ListAllAgents(ctx)
	if err != nil {
		return err
	}
	descs := make([]registry.Descriptor, 0, len(agents))
	for _, a := range agents {
		descs = append(descs, registry.FromStore(a))
	}
	if err := directory.Rebuild(descs); err != nil {
		return err
	}

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	secret := []byte(cfg.Server.JWTSecret)

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
	})

	ah := &AgentsHandler{Store: st, Directory: directory, AllowPrivateURLs: cfg.General.AllowPrivateAgents}
	ah.Register(api.Group("/agents"), secret)

	sh := &SearchHandler{Engine: eng, Secret: secret}
	sh.Register(api)

	maint := &Maintenance{Store: st, Rdb: rdb, Cron: cfg.Quota.PruneCron, Stop: make(chan struct{})}
	maint.Start()

	if addr == "" {
		addr = cfg.Server.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10010"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
