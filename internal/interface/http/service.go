package httpservice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ark-network/dlc/internal/config"
	"github.com/ark-network/dlc/internal/core/application"
	interfaces "github.com/ark-network/dlc/internal/interface"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type Config struct {
	Port uint32
}

func (c Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("missing port")
	}
	return nil
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

type service struct {
	config    Config
	appConfig *config.Config
	appSvc    application.Service
	server    *http.Server
}

func NewService(
	svcConfig Config, appConfig *config.Config,
) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	appSvc, err := appConfig.AppService()
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              svcConfig.address(),
		Handler:           NewRouter(appSvc, appConfig.OracleClient()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &service{svcConfig, appConfig, appSvc, server}, nil
}

func (s *service) Start() error {
	if err := s.appSvc.Start(); err != nil {
		return err
	}
	log.Info("started contract service")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped")
		}
	}()
	log.Infof("admin server listening on %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// nolint
	s.server.Shutdown(ctx)
	log.Info("stopped admin server")

	s.appSvc.Stop()
	log.Info("stopped contract service")

	s.appConfig.AnnouncementCache().Close()
	log.Debug("closed announcement cache")
}
