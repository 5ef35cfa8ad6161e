package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "rwaadmin/api/swagger" // swagger docs
	"rwaadmin/internal/approval"
	"rwaadmin/internal/config"
	"rwaadmin/internal/database"
	"rwaadmin/internal/handler"
	"rwaadmin/internal/middleware"
	"rwaadmin/internal/notify"
	"rwaadmin/internal/repository"
	"rwaadmin/internal/service"
	"rwaadmin/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.RequireSecret(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Run schema migration before serving")
	return cmd
}

type closer func() error

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	db, err := database.NewConnection(cfg.Database.DSN(), database.Options{})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	slog.Info("connected to PostgreSQL", "host", cfg.Database.Host, "db", cfg.Database.Name)
	if migrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	hub := websocket.NewHub(cfg.Server.AllowedOrigins...)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	notifier, closers, err := buildNotifier(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("closing event sink failed", "error", err)
			}
		}
	}()

	router, err := buildRouter(db, cfg, hub, notifier)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, failed := <-errCh:
		if failed {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifier fans events out to the websocket hub plus whichever of Redis
// and Kafka are configured.
func buildNotifier(ctx context.Context, cfg *config.Config, hub *websocket.Hub) (approval.Notifier, []closer, error) {
	sinks := notify.Fanout{hub}
	var closers []closer

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		pub, err := notify.NewRedisPublisher(client, cfg.Redis.Channel)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, client.Close)
		slog.Info("redis event sink enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub.Close)
		slog.Info("kafka event sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	return sinks, closers, nil
}

// buildResolver consults database policies first, then the bootstrap file.
func buildResolver(cfg *config.Config, policies approval.PolicyResolver) (approval.PolicyResolver, error) {
	chain := approval.ChainResolver{policies}
	if cfg.Policies.File == "" {
		return chain, nil
	}
	fromFile, err := approval.LoadPolicies(cfg.Policies.File)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("policy file not found, using database policies only", "path", cfg.Policies.File)
		return chain, nil
	}
	if err != nil {
		return nil, err
	}
	static, err := approval.NewStaticResolver(fromFile...)
	if err != nil {
		return nil, err
	}
	slog.Info("bootstrap policies loaded", "path", cfg.Policies.File, "count", len(fromFile))
	return append(chain, static), nil
}

func buildRouter(db *gorm.DB, cfg *config.Config, hub *websocket.Hub, notifier approval.Notifier) (*gin.Engine, error) {
	// Set up dependencies (Repository -> Service -> Handler)
	tm := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	txRepo := repository.NewTransactionRepository(db)

	roleService := service.NewRoleService(repository.NewRoleRepository(db), tm)
	policyService := service.NewPolicyService(repository.NewPolicyRepository(db), auditRepo, tm)
	resolver, err := buildResolver(cfg, policyService)
	if err != nil {
		return nil, err
	}

	dispatcher := approval.NewDispatcher(approval.DispatcherConfig{
		Transitions: service.NewPhaseApplier(projectRepo),
		Executions:  service.NewTransactionApplier(txRepo),
		Audit:       auditRepo,
		Notifier:    notifier,
	})
	manager := approval.NewManager(resolver, repository.NewApprovalStore(db, tm), userRepo, dispatcher)

	auth := middleware.NewAuth(middleware.AuthConfig{
		Secret:        cfg.Auth.JWTSecret,
		SecureCookies: cfg.Server.SecureCookies,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	}, roleService)

	userService := service.NewUserService(userRepo, auditRepo, tm, service.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})

	handlers := []interface {
		RegisterRoutes(*gin.RouterGroup, *middleware.Auth)
	}{
		handler.NewUserHandler(userService, auth),
		handler.NewRoleHandler(roleService, auth),
		handler.NewPolicyHandler(policyService),
		handler.NewProjectHandler(service.NewProjectService(projectRepo, auditRepo, manager, tm)),
		handler.NewTransactionHandler(service.NewTransactionService(txRepo, projectRepo, auditRepo, manager, tm)),
		handler.NewApprovalHandler(service.NewApprovalService(manager)),
		handler.NewAuditHandler(service.NewAuditService(auditRepo)),
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": hub.ClientCount()})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, auth, c)
	})

	api := router.Group("")
	for _, h := range handlers {
		h.RegisterRoutes(api, auth)
	}
	return router, nil
}
