package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vm-provisioner/internal/api/routes"
	"vm-provisioner/internal/config"
	"vm-provisioner/internal/db"
	"vm-provisioner/internal/logger"
	provisionservice "vm-provisioner/internal/services/provision_service"
	pve "vm-provisioner/internal/services/proxmox_service"
	requestservice "vm-provisioner/internal/services/request_service"
	userservice "vm-provisioner/internal/services/user_service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the provisioning workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 설정 로드 (Configuration)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	gin.SetMode(cfg.GinMode)

	// 2. 데이터베이스 초기화 (Database Initialization)
	database, err := db.Open(cfg)
	if err != nil {
		return err
	}

	// 3. 서비스 초기화 (Services)
	proxmox, err := pve.NewFromConfig(cfg.Proxmox)
	if err != nil {
		return fmt.Errorf("failed to initialize proxmox client: %w", err)
	}
	provisioner := provisionservice.NewProvisioner(proxmox, provisionservice.OptionsFromConfig(cfg))
	discoverer := newDiscoverer(proxmox, cfg)

	// 워커는 서버 종료 신호와 별개로 Shutdown 에서 취소됨
	dispatcher := requestservice.NewDispatcher(context.WithoutCancel(ctx), cfg.Provision.Workers, cfg.Provision.QueueSize)
	requests := requestservice.NewRequestService(requestservice.NewStore(database), cfg.Tiers, provisioner, discoverer, dispatcher)
	users := userservice.NewUserService(database)

	if _, err := requests.RecoverInterrupted(ctx); err != nil {
		return err
	}
	if created, err := users.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	} else if created {
		logrus.WithField("username", cfg.AdminUsername).Info("Created admin account")
	}

	// 4. 라우터 설정 (Router)
	r := routes.SetupRouter(routes.Dependencies{
		DB:        database,
		Users:     users,
		Requests:  requests,
		Proxmox:   proxmox,
		Guests:    discoverer,
		JWTSecret: cfg.JWTSecret,
		HookToken: cfg.HookToken,
		Debug:     cfg.GinMode == gin.DebugMode,
	})

	// 5. 서버 시작 (Start Server)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logrus.Info("Shutting down...")
	}

	// 6. 종료: HTTP 먼저, 그 다음 진행 중인 프로비저닝
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown did not complete")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Provisioning workers did not stop in time, interrupted requests are recovered on next start")
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDiscoverer(client provisionservice.GuestAgent, cfg *config.Config) *provisionservice.GuestInfoDiscoverer {
	d := provisionservice.NewGuestInfoDiscoverer(client, cfg.Proxmox.Node)
	d.Attempts = cfg.Provision.DiscoveryAttempts
	d.Wait = cfg.Provision.DiscoveryWait
	return d
}
