package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsignal/internal/admission"
	"callsignal/internal/audit"
	"callsignal/internal/auth"
	"callsignal/internal/config"
	"callsignal/internal/httpapi"
	"callsignal/internal/rbac"
	"callsignal/internal/reporting"
	"callsignal/internal/session"
	"callsignal/internal/switchboard"
	"callsignal/internal/wsapi"
	"callsignal/pkg/logger"
	"callsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	var logOpts []logger.Option
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	log := logger.New(cfg.App.Env, logOpts...)
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("server failed", "err", err)
		_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
		os.Exit(1)
	}
	_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
}

func run(rootCtx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	checks := map[string]func(ctx context.Context) error{}

	auditRepo, closeAudit, err := openAuditRepo(rootCtx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeAudit()
	auditSvc := audit.NewService(auditRepo)

	var connCap admission.ConnLimiter = admission.NewMemoryCap(cfg.WebSocket.MaxConnsPerIP)
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			return err
		}
		defer rdb.Close()
		connCap = admission.NewRedisCap(rdb, cfg.WebSocket.MaxConnsPerIP, 0)
		checks["redis"] = func(ctx context.Context) error { return pingRedis(ctx, rdb) }
	}

	reports := reporting.NewService(time.Now())
	callWindow := admission.NewWindow(cfg.Signal.CallRateLimit, cfg.Signal.CallRateWindow)

	operators := make(map[string]struct{}, len(cfg.Signal.Operators))
	for _, n := range cfg.Signal.Operators {
		operators[n] = struct{}{}
	}

	sb := switchboard.New(switchboard.Config{
		RingTimeout:    cfg.Signal.RingTimeout,
		ReconnectGrace: cfg.Signal.ReconnectGrace,
		OutboxLimit:    cfg.Signal.OutboxLimit,
	}, switchboard.Options{
		Authorizer: session.Policy{
			MaxLen:       cfg.Signal.NicknameMaxLen,
			Operators:    operators,
			DefaultRole:  rbac.RoleUser,
			OperatorRole: rbac.RoleOperator,
		},
		Tokens:      tokens,
		CallLimiter: callWindow,
		Observers:   []switchboard.Observer{audit.NewObserver(auditSvc, log), reports},
		Logger:      log,
	})

	ws := wsapi.NewHandler(sb, wsapi.Options{
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.PongWait,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		Limiter:         connCap,
		Context:         rootCtx,
		Logger:          log,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, httpapi.Handlers{
		Switchboard: sb,
		Reporting:   reports,
		Audit:       auditSvc,
		Checks:      checks,
	}, ws, tokens)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return sb.Run(ctx)
	})
	g.Go(func() error {
		log.Info("signaling listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(cfg.Signal.CallRateWindow)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-t.C:
				callWindow.Sweep(now)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	err = g.Wait()
	sb.Wait()
	return err
}

// openAuditRepo picks the audit store and registers its readiness check.
func openAuditRepo(ctx context.Context, cfg config.Config, checks map[string]func(context.Context) error) (audit.Repository, func(), error) {
	var (
		db      *sql.DB
		dialect audit.Dialect
		err     error
	)
	switch cfg.Audit.Store {
	case "postgres":
		db, err = utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolConfig{})
		dialect = audit.DialectPostgres
	case "sqlite":
		db, err = utils.OpenSQLite(ctx, cfg.Audit.SQLitePath)
		dialect = audit.DialectSQLite
	default:
		return audit.NewMemoryRepo(), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	repo := audit.NewSQLRepo(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	checks[cfg.Audit.Store] = func(ctx context.Context) error {
		return utils.HealthCheck(ctx, db, time.Second)
	}
	return repo, func() { _ = db.Close() }, nil
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
